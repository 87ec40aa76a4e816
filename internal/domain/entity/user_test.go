package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUser_DefaultState(t *testing.T) {
	u := NewUser(1, 10)
	require.Equal(t, StateMainMenu, u.State)
	require.Equal(t, int64(1), u.ID)
	require.Equal(t, int64(10), u.ChatID)
	require.Empty(t, u.LastDiagnosisID)
}

func TestUser_RecordDiagnosis(t *testing.T) {
	u := NewUser(1, 10)
	u.SetState(StateProcessing)
	u.RecordDiagnosis("abc")
	require.Equal(t, StateMainMenu, u.State)
	require.Equal(t, "abc", u.LastDiagnosisID)
	require.Equal(t, 1, u.Checks)
}
