// Package rest exposes the diagnosis service over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"

	app "lung-vision/internal/application"
	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

const maxUploadBytes = 10 << 20

// DiagnosisService is what the handlers need from the application layer.
type DiagnosisService interface {
	Diagnose(ctx context.Context, filename string, data []byte) (*entity.Diagnosis, error)
	History(ctx context.Context, limit int) ([]*entity.Diagnosis, error)
	Get(ctx context.Context, id string) (*entity.Diagnosis, error)
	Delete(ctx context.Context, id string) error
	Summary(ctx context.Context) (entity.Summary, error)
}

// Handler serves the diagnosis REST endpoints.
type Handler struct {
	svc DiagnosisService
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc DiagnosisService) *Handler {
	return &Handler{svc: svc}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict accepts a multipart upload in the "image" or "file" field.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing image file. Use 'image' or 'file' as the form field name")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read image")
		return
	}
	log.Printf("Received file: %s, size: %d bytes", header.Filename, len(data))

	d, err := h.svc.Diagnose(r.Context(), header.Filename, data)
	switch {
	case errors.Is(err, app.ErrBadImage):
		writeError(w, http.StatusBadRequest, "Invalid image format")
		return
	case errors.Is(err, app.ErrClassifierMissing):
		writeError(w, http.StatusServiceUnavailable, "Model is not loaded")
		return
	case err != nil:
		log.Printf("Prediction error: %v", err)
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	writeJSON(w, http.StatusOK, newPredictResponse(d))
}

// History lists the retained diagnoses, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.History(r.Context(), 0)
	if err != nil {
		log.Printf("History error: %v", err)
		writeError(w, http.StatusInternalServerError, "History unavailable")
		return
	}
	out := historyResponse{History: make([]historyItem, 0, len(items))}
	for _, d := range items {
		out.History = append(out.History, newHistoryItem(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// HistoryDetail returns one diagnosis by its path id.
func (h *Handler) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyDetail{ID: d.ID, TopK: d.TopK})
}

// HistoryDetailQuery serves GET /history/detail?id=, the query-string form
// of HistoryDetail.
func (h *Handler) HistoryDetailQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id")
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyDetail{ID: d.ID, TopK: d.TopK})
}

// DeleteHistory removes one diagnosis from the history.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Summary reports today's and total diagnosis counts and the mean confidence.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context())
	if err != nil {
		log.Printf("Summary error: %v", err)
		writeError(w, http.StatusInternalServerError, "Summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Today:         s.Today,
		Total:         s.Total,
		AvgConfidence: fmt.Sprintf("%.1f%%", s.AvgConfidence*100),
	})
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, port.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	log.Printf("History error: %v", err)
	writeError(w, http.StatusInternalServerError, "History unavailable")
}

func newPredictResponse(d *entity.Diagnosis) predictResponse {
	top := d.Prediction.Top()
	resp := predictResponse{
		ID:             d.ID,
		Classification: string(top.Label),
		Confidence:     top.Prob,
		Probabilities:  make(map[string]float64, len(entity.Labels)),
		TopK:           d.TopK,
	}
	for l, p := range d.Prediction.ByLabel() {
		resp.Probabilities[string(l)] = p
	}
	if u := d.Visualization.URL(); u != "" {
		resp.GradCAMURL = &u
	}
	if d.Report != nil {
		resp.Report = d.Report.Text
	}
	return resp
}

func newHistoryItem(d *entity.Diagnosis) historyItem {
	top := d.Prediction.Top()
	title := d.Filename
	if title == "" {
		title = "Chest image"
	}
	return historyItem{
		ID:       d.ID,
		Title:    title,
		Subtitle: "Prediction: " + string(top.Label),
		Prob:     math.Round(top.Prob*1000) / 10,
		Level:    string(top.Label),
		Time:     d.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
