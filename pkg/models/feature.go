package models

import (
	"strings"
)

// Feature is a selectable transform implemented by three variant executables
type Feature struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Features is the closed catalogue of supported features
var Features = []Feature{
	{ID: "grayscale", Name: "Grayscale Conversion"},
	{ID: "gaussian_blur", Name: "Gaussian Blur"},
	{ID: "edge_detection", Name: "Edge Detection"},
	{ID: "white_balance", Name: "White Balance"},
	{ID: "histogram_equalization", Name: "Histogram Equalization"},
	{ID: "frame_sharpening", Name: "Frame Sharpening"},
	{ID: "scene_detection", Name: "Scene Detection"},
	{ID: "background_subtraction", Name: "Background Subtraction"},
	{ID: "brightness_contrast", Name: "Brightness/Contrast"},
	{ID: "motion_blur_reduction", Name: "Motion Blur Reduction"},
	{ID: "contrast_enhancement", Name: "Contrast Enhancement"},
	{ID: "lightup", Name: "Lightup"},
}

// LookupFeature resolves a feature by id or display name, case-insensitively
func LookupFeature(s string) (Feature, bool) {
	s = strings.TrimSpace(s)
	for _, f := range Features {
		if strings.EqualFold(f.ID, s) || strings.EqualFold(f.Name, s) || f.ID == FeatureKey(s) {
			return f, true
		}
	}
	return Feature{}, false
}

// FeatureKey maps a feature name onto its on-disk naming key
func FeatureKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// IsTextFeatureKey reports whether a naming key belongs to a scene-detection-like feature
func IsTextFeatureKey(key string) bool {
	return strings.Contains(key, "scene")
}

// Key returns the naming key used for executables and artifacts
func (f Feature) Key() string {
	return FeatureKey(f.ID)
}

// ProducesText reports whether the feature writes .txt artifacts instead of video
func (f Feature) ProducesText() bool {
	return IsTextFeatureKey(f.Key())
}

// ArtifactExt returns the extension the variant programs write
func (f Feature) ArtifactExt() string {
	if f.ProducesText() {
		return ".txt"
	}
	return ".avi"
}

// Program returns the executable name for a variant, e.g. "grayscale_openmp"
func (f Feature) Program(v Variant) string {
	return f.Key() + "_" + string(v)
}
