package report

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

// Explanations are the fixed per-class notes included in every report.
var Explanations = map[entity.Label]string{
	entity.LabelNormal:    "No definite abnormality; no suspicious mass or nodule was detected. Correlate with clinical findings and prior imaging.",
	entity.LabelMalignant: "Possible malignancy. Typical signs include lobulated or spiculated margins, pleural retraction, vacuole sign and hilar or mediastinal lymphadenopathy. Prompt further work-up and multidisciplinary review are advised.",
	entity.LabelBenign:    "Possibly benign, e.g. a calcified nodule, smooth margins or fat density suggesting hamartoma. Follow-up imaging is still advised to exclude progression.",
}

var recommendations = map[entity.Label]string{
	entity.LabelNormal:    "Routine screening per guideline intervals.",
	entity.LabelMalignant: "Contrast CT or PET-CT and tissue sampling; discuss at a multidisciplinary meeting.",
	entity.LabelBenign:    "Follow-up low-dose CT in 3 to 6 months to confirm stability.",
}

const reportTemplate = `Chest image analysis{{if .Filename}} ({{.Filename}}){{end}}

AI summary:
{{range .TopK}}- {{.Label}}: {{percent .Prob}}
{{end}}
Most likely: {{.Top.Label}} ({{percent .Top.Prob}})
{{.Explanation}}

Recommendation: {{.Recommendation}}
{{if .Overlay}}
A heatmap overlay marks the regions that drove this result.
{{end}}
Limitations: automated screening aid, not a diagnosis. Results must be reviewed by a radiologist.
`

// TemplateDescriber renders a deterministic findings text from the top-k
// prediction.
type TemplateDescriber struct {
	tmpl *template.Template
}

func NewTemplateDescriber() *TemplateDescriber {
	funcs := template.FuncMap{
		"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p*100) },
	}
	return &TemplateDescriber{tmpl: template.Must(template.New("report").Funcs(funcs).Parse(reportTemplate))}
}

func (d *TemplateDescriber) Describe(ctx context.Context, diag *entity.Diagnosis) (*entity.Report, error) {
	if diag == nil || diag.Prediction == nil {
		return nil, fmt.Errorf("describe: %w", entity.ErrInvalidPrediction)
	}
	topK := diag.TopK
	if len(topK) == 0 {
		topK = diag.Prediction.TopK(len(entity.Labels))
	}
	top := diag.Prediction.Top()
	var buf bytes.Buffer
	err := d.tmpl.Execute(&buf, struct {
		Filename       string
		TopK           []entity.LabelScore
		Top            entity.LabelScore
		Explanation    string
		Recommendation string
		Overlay        bool
	}{
		Filename:       diag.Filename,
		TopK:           topK,
		Top:            top,
		Explanation:    Explanations[top.Label],
		Recommendation: recommendations[top.Label],
		Overlay:        diag.Visualization != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return &entity.Report{Text: buf.String()}, nil
}

var _ port.FindingDescriber = (*TemplateDescriber)(nil)
