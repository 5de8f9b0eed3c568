package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const watchURL = "https://www.youtube.com/watch?v="

// Downloader fetches audio tracks with yt-dlp into a per-id cache.
type Downloader struct {
	YtDlpPath string
	Dir       string
	run       Runner
	logger    *slog.Logger
}

// NewDownloader creates a Downloader caching into dir.
func NewDownloader(ytDlpPath, dir string, run Runner, logger *slog.Logger) *Downloader {
	if ytDlpPath == "" {
		ytDlpPath = "yt-dlp"
	}
	if run == nil {
		run = ExecRunner
	}
	return &Downloader{YtDlpPath: ytDlpPath, Dir: dir, run: run, logger: logger}
}

// Path returns the cache location for videoID.
func (d *Downloader) Path(videoID string) string {
	return filepath.Join(d.Dir, videoID+".mp3")
}

// Download returns the local mp3 for videoID, fetching it only when the
// cached file is missing or empty.
func (d *Downloader) Download(ctx context.Context, videoID string) (string, error) {
	path := d.Path(videoID)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		d.logger.Debug("audio cache hit", slog.String("video_id", videoID))
		return path, nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio dir: %w", err)
	}

	template := filepath.Join(d.Dir, videoID+".%(ext)s")
	_, err := d.run(ctx, d.YtDlpPath,
		"--quiet", "--no-playlist",
		"-x", "--audio-format", "mp3",
		"-o", template,
		watchURL+videoID)
	if err != nil {
		return "", fmt.Errorf("downloading audio for %s: %w", videoID, err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("downloading audio for %s: no output at %s", videoID, path)
	}
	d.logger.Info("audio downloaded", slog.String("video_id", videoID), slog.Int64("bytes", info.Size()))
	return path, nil
}
