package entity

// VisualizationArtifact is an encoded saliency overlay. Exactly one of
// DataURL and FilePath is set.
type VisualizationArtifact struct {
	Kind     string
	DataURL  string
	FilePath string
	// PublicURL is where FilePath is served, if anywhere.
	PublicURL string
}

const KindGradCAM = "gradcam"

// URL is what clients should load: the data URL itself or the public path of
// the file.
func (a *VisualizationArtifact) URL() string {
	if a == nil {
		return ""
	}
	if a.DataURL != "" {
		return a.DataURL
	}
	if a.PublicURL != "" {
		return a.PublicURL
	}
	return a.FilePath
}
