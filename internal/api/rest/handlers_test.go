package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "lung-vision/internal/application"
	"lung-vision/internal/domain/entity"
	"lung-vision/internal/infrastructure/storage"
)

type fakeService struct {
	history *storage.MemoryHistoryRepository
	err     error
	viz     *entity.VisualizationArtifact
	n       int
}

func newFakeService() *fakeService {
	return &fakeService{history: storage.NewMemoryHistoryRepository(10)}
}

func (f *fakeService) Diagnose(ctx context.Context, filename string, data []byte) (*entity.Diagnosis, error) {
	if f.err != nil {
		return nil, f.err
	}
	pred, err := entity.NewPrediction([]float64{0.2, 0.75, 0.05})
	if err != nil {
		return nil, err
	}
	f.n++
	d := &entity.Diagnosis{
		ID:            fmt.Sprintf("id-%d", f.n),
		Filename:      filename,
		CreatedAt:     time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
		Prediction:    pred,
		TopK:          pred.TopK(3),
		Visualization: f.viz,
		Report:        &entity.Report{Text: "findings"},
	}
	return d, f.history.Add(ctx, d)
}

func (f *fakeService) History(ctx context.Context, limit int) ([]*entity.Diagnosis, error) {
	return f.history.List(ctx, limit)
}

func (f *fakeService) Get(ctx context.Context, id string) (*entity.Diagnosis, error) {
	return f.history.Get(ctx, id)
}

func (f *fakeService) Delete(ctx context.Context, id string) error {
	return f.history.Delete(ctx, id)
}

func (f *fakeService) Summary(ctx context.Context) (entity.Summary, error) {
	return f.history.Summary(ctx, time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC))
}

func uploadRequest(t *testing.T, field string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "chest.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := NewRouter(NewHandler(newFakeService()), "", "")
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPredict(t *testing.T) {
	svc := newFakeService()
	svc.viz = &entity.VisualizationArtifact{Kind: entity.KindGradCAM, FilePath: "/tmp/x.png", PublicURL: "/static/visualizations/x.png"}
	router := NewRouter(NewHandler(svc), "", "")

	for _, field := range []string{"image", "file"} {
		rec := serve(router, uploadRequest(t, field))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "malignant", resp["classification"])
		require.InDelta(t, 0.75, resp["confidence"], 1e-9)
		require.Equal(t, "/static/visualizations/x.png", resp["gradcam_url"])
		require.Contains(t, resp, "attention_url")
		require.Nil(t, resp["attention_url"])
		require.Equal(t, "findings", resp["report"])

		probs := resp["probabilities"].(map[string]any)
		require.Len(t, probs, 3)
		require.InDelta(t, 0.05, probs["benign"], 1e-9)
		require.Len(t, resp["topk"], 3)
	}
}

func TestPredict_Errors(t *testing.T) {
	svc := newFakeService()
	router := NewRouter(NewHandler(svc), "", "")

	rec := serve(router, uploadRequest(t, "photo"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = fmt.Errorf("%w: junk", app.ErrBadImage)
	rec = serve(router, uploadRequest(t, "image"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = app.ErrClassifierMissing
	rec = serve(router, uploadRequest(t, "image"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = fmt.Errorf("classify: boom")
	rec = serve(router, uploadRequest(t, "image"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/predict", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredict_NoVisualization(t *testing.T) {
	router := NewRouter(NewHandler(newFakeService()), "", "")
	rec := serve(router, uploadRequest(t, "image"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp["gradcam_url"])
}

func TestHistoryEndpoints(t *testing.T) {
	svc := newFakeService()
	router := NewRouter(NewHandler(svc), "", "")
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "image")).Code)
	}

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.History, 2)
	require.Equal(t, "id-2", list.History[0].ID)
	require.Equal(t, 75.0, list.History[0].Prob)
	require.Equal(t, "malignant", list.History[0].Level)
	require.Equal(t, "chest.png", list.History[0].Title)
	require.Equal(t, "2026-05-04 10:30:00", list.History[0].Time)
	require.NotContains(t, rec.Body.String(), "topk")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/history/id-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail historyDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, "id-1", detail.ID)
	require.Len(t, detail.TopK, 3)
	require.Equal(t, entity.LabelMalignant, detail.TopK[0].Label)

	rec = serve(router, httptest.NewRequest(http.MethodDelete, "/history/id-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/history/id-1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(router, httptest.NewRequest(http.MethodDelete, "/history/id-1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"today":2,"total":2,"avgConfidence":"75.0%"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(NewHandler(newFakeService()), "", "")
	rec := serve(router, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gradcam_a.png"), []byte("png-bytes"), 0o644))
	router := NewRouter(NewHandler(newFakeService()), dir, "/static/visualizations")

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/static/visualizations/gradcam_a.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "png-bytes", rec.Body.String())

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/static/visualizations/missing.png", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryDetailQuery(t *testing.T) {
	svc := newFakeService()
	router := NewRouter(NewHandler(svc), "", "")
	require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "image")).Code)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/history/detail?id=id-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail historyDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, "id-1", detail.ID)
	require.Len(t, detail.TopK, 3)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/history/detail", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/history/detail?id=nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
