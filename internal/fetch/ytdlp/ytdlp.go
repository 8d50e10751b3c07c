// Package ytdlp implements fetch.Capability by shelling out to yt-dlp for
// the download and ffmpeg for the fallback frame grab.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/task"
)

const (
	ytdlpExecutable  = "yt-dlp"
	ffmpegExecutable = "ffmpeg"

	// 720p keeps short-form clips well under the transfer ceilings while
	// staying good enough for re-publishing.
	formatSelector = "bestvideo[height<=720]+bestaudio/best[height<=720]"

	downloadUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	errSnippetLimit = 300
)

var _ fetch.Capability = (*Runner)(nil)

// Runner invokes the external tools. Binaries are resolved through PATH.
type Runner struct {
	log       *slog.Logger
	ytdlpBin  string
	ffmpegBin string
}

func New(log *slog.Logger) *Runner {
	return &Runner{log: log, ytdlpBin: ytdlpExecutable, ffmpegBin: ffmpegExecutable}
}

// sourceInfo is the slice of yt-dlp's info JSON we care about. Duration is a
// float there (fractional seconds for some extractors).
type sourceInfo struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Uploader  string  `json:"uploader"`
	Extractor string  `json:"extractor"`
}

// Download runs yt-dlp into dir, naming its outputs after the sanitized
// task name, and locates the media, thumbnail and info files it produced.
func (r *Runner) Download(ctx context.Context, url, name, dir string) (*fetch.RawMedia, error) {
	args := []string{
		"--format", formatSelector,
		"--merge-output-format", "mp4",
		"--write-thumbnail",
		"--write-info-json",
		"--no-playlist",
		"--extractor-retries", "3",
		"--output", filepath.Join(dir, outputTemplate(name)),
		"--user-agent", downloadUserAgent,
		url,
	}
	r.log.Debug("running yt-dlp", "url", url, "dir", dir)

	cmd := exec.CommandContext(ctx, r.ytdlpBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &fetch.DownloadError{Kind: fetch.KindTransient, Msg: "download timed out", Err: ctx.Err()}
		}
		return nil, &fetch.DownloadError{
			Kind: fetch.KindTransient,
			Msg:  fmt.Sprintf("yt-dlp failed: %s", snippet(stderr.String())),
			Err:  err,
		}
	}

	videoPath, thumbPath, infoPath, err := locateOutputs(dir)
	if err != nil {
		return nil, &fetch.DownloadError{Kind: fetch.KindTransient, Msg: "locate downloads", Err: err}
	}

	media := &fetch.RawMedia{VideoPath: videoPath, ThumbnailPath: thumbPath}
	if infoPath != "" {
		info, err := readInfo(infoPath)
		if err != nil {
			r.log.Warn("info json unreadable, keeping defaults", "path", infoPath, "err", err)
		} else {
			media.Title = info.Title
			media.Uploader = info.Uploader
			media.Extractor = info.Extractor
			media.Duration = int64(info.Duration)
		}
	} else {
		r.log.Warn("no info json produced by yt-dlp")
	}
	return media, nil
}

// ExtractFrame grabs a high-quality still at the one second mark.
func (r *Runner) ExtractFrame(ctx context.Context, videoPath, framePath string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegBin,
		"-y",
		"-i", videoPath,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-q:v", "2",
		framePath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame grab: %s: %w", snippet(stderr.String()), err)
	}
	if _, err := os.Stat(framePath); err != nil {
		return fmt.Errorf("ffmpeg produced no frame: %w", err)
	}
	return nil
}

// outputTemplate builds the yt-dlp output template from the task name,
// sanitized so descriptor text cannot escape or break the workdir path.
func outputTemplate(name string) string {
	base := task.SanitizeName(strings.TrimSpace(name))
	if base == "" {
		base = "media"
	}
	return base + ".%(ext)s"
}

var videoExts = map[string]bool{".mp4": true, ".webm": true, ".mkv": true, ".mov": true}
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

func locateOutputs(dir string) (video, thumb, info string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", "", fmt.Errorf("read download dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		full := filepath.Join(dir, name)
		switch {
		case videoExts[ext]:
			video = full
		case imageExts[ext]:
			thumb = full
		case ext == ".json" && strings.Contains(strings.ToLower(name), "info"):
			info = full
		}
	}
	if video == "" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return "", "", "", fmt.Errorf("no video file among downloads: %v", names)
	}
	return video, thumb, info, nil
}

func readInfo(path string) (*sourceInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from our own workdir scan
	if err != nil {
		return nil, err
	}
	var info sourceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[i+1:]) // last stderr line carries the actual error
	}
	if len(s) > errSnippetLimit {
		s = s[:errSnippetLimit] + "..."
	}
	return s
}
