package workspace

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/parbench/internal/runner"
)

const probeTimeout = 30 * time.Second

// VideoInfo is the metadata reported after an upload
type VideoInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream metadata with ffprobe. It returns nil when probing is
// disabled or fails for any reason.
func (w *Workspace) Probe(ctx context.Context, path string) *VideoInfo {
	if w.exec == nil || w.ffprobe == "" {
		return nil
	}
	res := w.exec.Run(ctx, runner.Spec{
		Name: "probe",
		Path: w.ffprobe,
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
			"-of", "json",
			path,
		},
		Timeout: probeTimeout,
	})
	if !res.OK() {
		w.logger.Warn("Error getting video info", map[string]interface{}{"path": path, "stderr": strings.TrimSpace(res.Stderr)})
		return nil
	}
	info, err := parseProbe([]byte(res.Stdout))
	if err != nil {
		w.logger.Warn("Error getting video info", map[string]interface{}{"path": path, "error": err})
		return nil
	}
	return info
}

func parseProbe(data []byte) (*VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out.Streams) == 0 {
		return nil, errNoVideoStream
	}
	s := out.Streams[0]

	info := &VideoInfo{Width: s.Width, Height: s.Height}
	info.FPS = parseRate(s.AvgFrameRate)
	if info.FPS == 0 {
		info.FPS = parseRate(s.RFrameRate)
	}

	duration := parseFloat(s.Duration)
	if duration == 0 {
		duration = parseFloat(out.Format.Duration)
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.FrameCount = n
	} else if info.FPS > 0 {
		info.FrameCount = int(math.Round(duration * info.FPS))
	}

	if info.FPS > 0 && info.FrameCount > 0 {
		info.Duration = float64(info.FrameCount) / info.FPS
	} else {
		info.Duration = duration
	}
	return info, nil
}

type probeError string

func (e probeError) Error() string { return string(e) }

const errNoVideoStream = probeError("no video stream")

// parseRate turns "30000/1001" or "25" into frames per second
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
