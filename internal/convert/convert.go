// Package convert normalizes variant video artifacts into browser-playable MP4.
package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/pkg/logging"
)

// Tier names the strategy that produced a Normalize result
type Tier string

const (
	TierExisting Tier = "existing" // target already present
	TierEncode   Tier = "encode"   // primary ffmpeg encode
	TierFallback Tier = "fallback" // per-codec re-encode
	TierSource   Tier = "source"   // every tier failed, source returned
)

// DefaultCodecs is the order fallback re-encodes are attempted in
var DefaultCodecs = []string{"libx264", "h264", "libopenh264", "mpeg4"}

// Config configures a Converter
type Config struct {
	FFmpeg  string
	Timeout time.Duration
	Codecs  []string
}

// Converter runs the tiered normalization
type Converter struct {
	exec   runner.Executor
	cfg    Config
	logger *logging.Logger

	// OnTier, if set, is called once per Normalize with the tier that won
	OnTier func(Tier)
}

// New creates a Converter that invokes ffmpeg through exec
func New(exec runner.Executor, cfg Config, logger *logging.Logger) *Converter {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Converter{exec: exec, cfg: cfg, logger: logger}
}

// Target returns the MP4 path Normalize writes for src
func Target(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".mp4"
}

// Normalize returns the path of a playable version of src. It never fails:
// when no tier succeeds the source path itself is returned.
func (c *Converter) Normalize(ctx context.Context, src string) string {
	path, tier := c.normalize(ctx, src)
	if c.OnTier != nil {
		c.OnTier(tier)
	}
	return path
}

func (c *Converter) normalize(ctx context.Context, src string) (string, Tier) {
	dst := Target(src)
	if dst == src {
		return src, TierExisting
	}
	if nonEmpty(dst) {
		return dst, TierExisting
	}
	if !nonEmpty(src) {
		c.logger.Warn("source artifact missing or empty", map[string]interface{}{"path": src})
		return src, TierSource
	}

	res := c.exec.Run(ctx, runner.Spec{
		Name: "convert:encode",
		Path: c.cfg.FFmpeg,
		Args: []string{
			"-y", "-i", src,
			"-c:v", "libx264", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
			dst,
		},
		Timeout: c.cfg.Timeout,
	})
	if res.OK() && nonEmpty(dst) {
		c.logger.Info("converted artifact", map[string]interface{}{"src": src, "dst": dst})
		return dst, TierEncode
	}
	c.logger.Warn("primary encode failed, trying fallback codecs", map[string]interface{}{
		"src":       src,
		"exit_code": res.ExitCode,
		"stderr":    tail(res.Stderr, 512),
	})

	for _, codec := range c.cfg.Codecs {
		if ctx.Err() != nil {
			break
		}
		_ = os.Remove(dst)
		res := c.exec.Run(ctx, runner.Spec{
			Name:    "convert:" + codec,
			Path:    c.cfg.FFmpeg,
			Args:    []string{"-y", "-i", src, "-an", "-c:v", codec, dst},
			Timeout: c.cfg.Timeout,
		})
		if res.OK() && nonEmpty(dst) {
			c.logger.Info("converted artifact with fallback codec", map[string]interface{}{"src": src, "codec": codec})
			return dst, TierFallback
		}
	}
	_ = os.Remove(dst)

	c.logger.Warn("conversion failed, serving original artifact", map[string]interface{}{"src": src})
	return src, TierSource
}

// NormalizeAll converts every path concurrently and returns the results
// in input order.
func (c *Converter) NormalizeAll(ctx context.Context, srcs []string) []string {
	out := make([]string, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		g.Go(func() error {
			out[i] = c.Normalize(gctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
