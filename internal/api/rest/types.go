package rest

import "lung-vision/internal/domain/entity"

type predictResponse struct {
	ID             string              `json:"id"`
	Classification string              `json:"classification"`
	Confidence     float64             `json:"confidence"`
	Probabilities  map[string]float64  `json:"probabilities"`
	TopK           []entity.LabelScore `json:"topk"`
	GradCAMURL     *string             `json:"gradcam_url"`
	AttentionURL   *string             `json:"attention_url"`
	Report         string              `json:"report,omitempty"`
}

type historyItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	Prob     float64 `json:"prob"` // percent, one decimal
	Level    string  `json:"level"`
	Time     string  `json:"time"`
}

type historyResponse struct {
	History []historyItem `json:"history"`
}

type historyDetail struct {
	ID   string              `json:"id"`
	TopK []entity.LabelScore `json:"topk"`
}

type summaryResponse struct {
	Today         int    `json:"today"`
	Total         int    `json:"total"`
	AvgConfidence string `json:"avgConfidence"`
}
