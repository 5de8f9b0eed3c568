package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Segmenter splits audio into fixed windows with ffmpeg's segment muxer.
type Segmenter struct {
	FFmpegPath string
	Window     time.Duration
	run        Runner
}

// NewSegmenter creates a Segmenter. A zero window means 60 seconds.
func NewSegmenter(ffmpegPath string, window time.Duration, run Runner) *Segmenter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if run == nil {
		run = ExecRunner
	}
	return &Segmenter{FFmpegPath: ffmpegPath, Window: window, run: run}
}

// Split writes segments of input into outDir and returns their paths in
// playback order. Existing segments in outDir are reused. ffmpeg writes into
// a scratch directory that replaces outDir only on success, so an
// interrupted split is never reused.
func (s *Segmenter) Split(ctx context.Context, input, outDir string) ([]string, error) {
	if existing, err := listSegments(outDir); err == nil && len(existing) > 0 {
		return existing, nil
	}
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating segment dir: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(outDir)+".partial-")
	if err != nil {
		return nil, fmt.Errorf("creating segment dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	_, err = s.run(ctx, s.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", int(s.Window.Seconds())),
		"-c", "copy",
		filepath.Join(tmp, "seg_%04d.mp3"))
	if err != nil {
		return nil, fmt.Errorf("segmenting %s: %w", filepath.Base(input), err)
	}

	written, err := listSegments(tmp)
	if err != nil {
		return nil, err
	}
	if len(written) == 0 {
		return nil, fmt.Errorf("segmenting %s: no segments written", filepath.Base(input))
	}

	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("replacing segment dir: %w", err)
	}
	if err := os.Rename(tmp, outDir); err != nil {
		return nil, fmt.Errorf("replacing segment dir: %w", err)
	}
	return listSegments(outDir)
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "seg_") && strings.HasSuffix(e.Name(), ".mp3") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
