// Package artifact locates variant outputs on disk and streams them.
package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/psantana5/parbench/pkg/models"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrEmpty    = errors.New("artifact is empty")
)

const defaultSceneFeature = "scene_detection"

// FeatureLookup reports the feature recorded for a job, if any
type FeatureLookup func(jobID string) (feature string, ok bool)

// Resolver maps (job, variant) onto files under outputRoot/<job>/
type Resolver struct {
	outputRoot string
	lookup     FeatureLookup
}

// NewResolver creates a resolver. lookup may be nil; every lookup then uses the glob fallback.
func NewResolver(outputRoot string, lookup FeatureLookup) *Resolver {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Resolver{outputRoot: outputRoot, lookup: lookup}
}

// safeSegment rejects ids that would escape the output root
func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && filepath.Base(s) == s
}

func (r *Resolver) jobDir(jobID string) (string, bool) {
	if !safeSegment(jobID) {
		return "", false
	}
	return filepath.Join(r.outputRoot, jobID), true
}

// ResolveVideo finds the media artifact for a variant. With a known feature
// it tries {key}_{variant}.mp4 then .avi; otherwise it globs *_{variant}.mp4
// then *_{variant}.avi and takes the first match in lexical order.
func (r *Resolver) ResolveVideo(jobID, variant string) (string, error) {
	dir, ok := r.jobDir(jobID)
	if !ok || !safeSegment(variant) {
		return "", ErrNotFound
	}

	if feature, ok := r.lookup(jobID); ok && feature != "" {
		key := models.FeatureKey(feature)
		for _, ext := range []string{".mp4", ".avi"} {
			path := filepath.Join(dir, key+"_"+variant+ext)
			if isFile(path) {
				return path, nil
			}
		}
		return "", ErrNotFound
	}

	for _, ext := range []string{".mp4", ".avi"} {
		if path, ok := firstMatch(filepath.Join(dir, "*_"+variant+ext)); ok {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// ResolveScene finds the text artifact for a variant. The feature defaults
// to scene detection and a *_{variant}.txt glob is tried when the exact
// name is missing.
func (r *Resolver) ResolveScene(jobID, variant string) (string, error) {
	dir, ok := r.jobDir(jobID)
	if !ok || !safeSegment(variant) {
		return "", ErrNotFound
	}

	feature, ok := r.lookup(jobID)
	if !ok || feature == "" {
		feature = defaultSceneFeature
	}
	path := filepath.Join(dir, models.FeatureKey(feature)+"_"+variant+".txt")
	if isFile(path) {
		return path, nil
	}
	if path, ok := firstMatch(filepath.Join(dir, "*_"+variant+".txt")); ok {
		return path, nil
	}
	return "", ErrNotFound
}

// ReadScene returns the content of a scene artifact
func (r *Resolver) ReadScene(jobID, variant string) (string, error) {
	path, err := r.ResolveScene(jobID, variant)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func firstMatch(pattern string) (string, bool) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if isFile(m) {
			return m, true
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
