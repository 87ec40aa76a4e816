package entity

// UserState is where a chat user is in the dialogue.
type UserState string

const (
	StateMainMenu      UserState = "main_menu"
	StateAwaitingPhoto UserState = "awaiting_photo"
	StateProcessing    UserState = "processing"
)

// User is a chat user of the bot.
type User struct {
	ID     int64
	ChatID int64
	State  UserState
	// LastDiagnosisID points at the user's most recent diagnosis, if any.
	LastDiagnosisID string
	Checks          int
}

func NewUser(userID, chatID int64) *User {
	return &User{
		ID:     userID,
		ChatID: chatID,
		State:  StateMainMenu,
	}
}

func (u *User) SetState(state UserState) {
	u.State = state
}

// RecordDiagnosis remembers a finished check and returns to the main menu.
func (u *User) RecordDiagnosis(id string) {
	u.LastDiagnosisID = id
	u.Checks++
	u.State = StateMainMenu
}
