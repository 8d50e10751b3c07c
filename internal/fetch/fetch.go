package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cliplinehq/clipline/internal/retry"
)

// VideoInfo describes fetched media on local disk, with the source metadata
// the downloader extracted.
type VideoInfo struct {
	Title         string
	Uploader      string
	Extractor     string // source platform identifier
	Duration      int64  // seconds
	FileSize      int64  // bytes
	VideoPath     string
	ThumbnailPath string // empty when no thumbnail could be produced
}

// RawMedia is what the download capability yields before any policy check.
type RawMedia struct {
	VideoPath     string
	ThumbnailPath string
	Title         string
	Uploader      string
	Extractor     string
	Duration      int64
}

// Capability is the boundary to the external download tool. The production
// implementation shells out to yt-dlp and ffmpeg (internal/fetch/ytdlp).
type Capability interface {
	// Download fetches the media behind url into dir, naming the output
	// files after name, and returns the file locations plus extracted
	// metadata.
	Download(ctx context.Context, url, name, dir string) (*RawMedia, error)
	// ExtractFrame grabs a representative still from videoPath into framePath.
	ExtractFrame(ctx context.Context, videoPath, framePath string) error
}

// ErrorKind classifies a DownloadError for retry decisions.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPolicyViolation
)

// DownloadError is the fetch stage's terminal error. Policy violations
// (size/duration over the configured ceilings) are never retried.
type DownloadError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *DownloadError) Unwrap() error   { return e.Err }
func (e *DownloadError) Transient() bool { return e.Kind == KindTransient }

// Limits are the fetch-stage policy ceilings.
type Limits struct {
	MaxVideoSize uint64
	MaxDuration  time.Duration
}

// Fetcher drives the download capability, retries transient failures and
// enforces the policy ceilings before anything is handed to the uploader.
type Fetcher struct {
	log    *slog.Logger
	cap    Capability
	limits Limits
	policy retry.Policy
}

func NewFetcher(log *slog.Logger, c Capability, limits Limits, policy retry.Policy) *Fetcher {
	return &Fetcher{log: log, cap: c, limits: limits, policy: policy}
}

// Fetch downloads the source media into dir and returns the validated
// VideoInfo. name seeds the downloader's output file names. Thumbnail
// extraction failure degrades to an absent thumbnail.
func (f *Fetcher) Fetch(ctx context.Context, url, name, dir string) (*VideoInfo, error) {
	var raw *RawMedia
	var size int64
	err := retry.Do(ctx, f.policy, retry.IsTransient, func(ctx context.Context) error {
		m, err := f.cap.Download(ctx, url, name, dir)
		if err != nil {
			return err
		}
		// Stat inside the retried op so a vanished or truncated download
		// gets another attempt.
		fi, err := os.Stat(m.VideoPath)
		if err != nil {
			return &DownloadError{Kind: KindTransient, Msg: "downloaded media missing", Err: err}
		}
		raw = m
		size = fi.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.limits.MaxVideoSize > 0 && uint64(size) > f.limits.MaxVideoSize {
		return nil, &DownloadError{
			Kind: KindPolicyViolation,
			Msg: fmt.Sprintf("policy violation: file size %s exceeds limit %s",
				humanize.Bytes(uint64(size)), humanize.Bytes(f.limits.MaxVideoSize)),
		}
	}
	if f.limits.MaxDuration > 0 && time.Duration(raw.Duration)*time.Second > f.limits.MaxDuration {
		return nil, &DownloadError{
			Kind: KindPolicyViolation,
			Msg: fmt.Sprintf("policy violation: duration %ds exceeds limit %s",
				raw.Duration, f.limits.MaxDuration),
		}
	}

	thumbnail := raw.ThumbnailPath
	if thumbnail == "" {
		frame := filepath.Join(dir, "thumbnail.jpg")
		if err := f.cap.ExtractFrame(ctx, raw.VideoPath, frame); err != nil {
			f.log.Warn("thumbnail extraction failed, continuing without one", "err", err)
		} else {
			thumbnail = frame
		}
	}

	f.log.Info("media fetched",
		"title", raw.Title,
		"duration_s", raw.Duration,
		"size", humanize.Bytes(uint64(size)),
		"thumbnail", thumbnail != "")

	return &VideoInfo{
		Title:         raw.Title,
		Uploader:      raw.Uploader,
		Extractor:     raw.Extractor,
		Duration:      raw.Duration,
		FileSize:      size,
		VideoPath:     raw.VideoPath,
		ThumbnailPath: thumbnail,
	}, nil
}
