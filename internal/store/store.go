package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cliplinehq/clipline/internal/common"
	"github.com/cliplinehq/clipline/internal/config"
	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/retry"
	"github.com/cliplinehq/clipline/internal/task"
)

// Capability is the boundary to the object storage backend. The production
// implementation talks to Cloudflare R2 through the S3 API (internal/store/r2).
type Capability interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error
}

// ErrorKind classifies an UploadError for retry decisions.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindAuth
)

// UploadError is the upload stage's terminal error. Credential and
// permission problems bypass retry.
type UploadError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UploadError) Unwrap() error   { return e.Err }
func (e *UploadError) Transient() bool { return e.Kind == KindTransient }

// Object is one uploaded artifact.
type Object struct {
	URL string
	Key string
}

// Result collects the durable locations of a task's artifacts. Thumbnail is
// nil when none was uploaded, which is a valid outcome.
type Result struct {
	Video      Object
	Thumbnail  *Object
	Bucket     string
	BasePath   string // date-partitioned prefix shared by the task's objects
	UploadedAt time.Time
}

// Uploader derives storage keys and drives the object store capability.
type Uploader struct {
	log        *slog.Logger
	store      Capability
	bucket     string
	publicBase string
	policy     retry.Policy
	now        func() time.Time
}

func NewUploader(log *slog.Logger, store Capability, cfg config.StorageConfig, policy retry.Policy) *Uploader {
	return &Uploader{
		log:        log,
		store:      store,
		bucket:     cfg.Bucket,
		publicBase: publicBaseURL(cfg),
		policy:     policy,
		now:        time.Now,
	}
}

func publicBaseURL(cfg config.StorageConfig) string {
	if cfg.CustomDomain != "" {
		return "https://" + strings.TrimSuffix(cfg.CustomDomain, "/")
	}
	return fmt.Sprintf("https://%s.%s.r2.cloudflarestorage.com", cfg.Bucket, cfg.AccountID)
}

// ObjectKey derives the date-partitioned storage key for one artifact:
// videos/<year>/<month>/<day>/<task_id>_<artifact><ext>. The task ID makes
// keys collision-free across tasks; the date keeps the bucket navigable.
func ObjectKey(taskID, artifact, ext string, when time.Time) string {
	when = when.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s_%s%s",
		common.StorageCategory, when.Year(), int(when.Month()), when.Day(), taskID, artifact, ext)
}

// Upload stores the video (mandatory), thumbnail (best effort) and a
// metadata sidecar (best effort) and returns their durable URLs.
func (u *Uploader) Upload(ctx context.Context, info *fetch.VideoInfo, tc *task.Context) (*Result, error) {
	when := u.now().UTC()

	videoKey := ObjectKey(tc.ID, common.ArtifactVideo, filepath.Ext(info.VideoPath), when)
	if err := u.putFile(ctx, videoKey, info.VideoPath, common.MimeVideoMP4); err != nil {
		return nil, err
	}
	u.log.Info("video uploaded", "key", videoKey, "size", humanize.Bytes(uint64(info.FileSize)))

	res := &Result{
		Video:      Object{URL: u.publicURL(videoKey), Key: videoKey},
		Bucket:     u.bucket,
		BasePath:   filepath.ToSlash(filepath.Dir(videoKey)),
		UploadedAt: when,
	}

	if info.ThumbnailPath != "" {
		thumbKey := ObjectKey(tc.ID, common.ArtifactThumbnail, filepath.Ext(info.ThumbnailPath), when)
		if err := u.putFile(ctx, thumbKey, info.ThumbnailPath, imageContentType(info.ThumbnailPath)); err != nil {
			u.log.Warn("thumbnail upload failed, report will omit its URL", "key", thumbKey, "err", err)
		} else {
			res.Thumbnail = &Object{URL: u.publicURL(thumbKey), Key: thumbKey}
		}
	}

	u.putMetadata(ctx, info, tc, res, when)
	return res, nil
}

// imageContentType maps a thumbnail's extension to its MIME type. yt-dlp
// produces webp and png thumbnails as often as jpeg.
func imageContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return common.MimeImagePNG
	case ".webp":
		return common.MimeImageWebP
	default:
		return common.MimeImageJPEG
	}
}

// putFile re-opens the file per attempt so a half-read body never gets
// re-sent from the middle.
func (u *Uploader) putFile(ctx context.Context, key, path, contentType string) error {
	return retry.Do(ctx, u.policy, retry.IsTransient, func(ctx context.Context) error {
		f, err := os.Open(path) // #nosec G304 - artifact paths live in our own workdir
		if err != nil {
			return &UploadError{Kind: KindTransient, Msg: "open artifact", Err: err}
		}
		defer func() { _ = f.Close() }()
		fi, err := f.Stat()
		if err != nil {
			return &UploadError{Kind: KindTransient, Msg: "stat artifact", Err: err}
		}
		return u.store.Put(ctx, key, f, contentType, fi.Size())
	})
}

// metadataSidecar mirrors the task record next to the artifacts so the
// bucket stays self-describing without any database.
type metadataSidecar struct {
	TaskID       string `json:"task_id"`
	TaskName     string `json:"task_name"`
	VideoURL     string `json:"video_url"`
	Assignee     string `json:"assignee,omitempty"`
	Photographer string `json:"photographer,omitempty"`
	ShootDate    string `json:"shoot_date,omitempty"`
	UploadTime   string `json:"upload_time"`
	Title        string `json:"title"`
	Duration     int64  `json:"duration"`
	Extractor    string `json:"extractor"`
	VideoSize    string `json:"video_size"`
}

func (u *Uploader) putMetadata(ctx context.Context, info *fetch.VideoInfo, tc *task.Context, res *Result, when time.Time) {
	side := metadataSidecar{
		TaskID:       tc.ID,
		TaskName:     tc.TaskName,
		VideoURL:     tc.VideoURL,
		Assignee:     tc.Assignee,
		Photographer: tc.Photographer,
		ShootDate:    tc.ShootDate,
		UploadTime:   when.Format(time.RFC3339),
		Title:        info.Title,
		Duration:     info.Duration,
		Extractor:    info.Extractor,
		VideoSize:    humanize.Bytes(uint64(info.FileSize)),
	}
	body, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		u.log.Warn("metadata sidecar marshal failed", "err", err)
		return
	}
	key := res.BasePath + "/" + tc.ID + "_" + common.MetadataFileName
	err = retry.Do(ctx, u.policy, retry.IsTransient, func(ctx context.Context) error {
		return u.store.Put(ctx, key, bytes.NewReader(body), common.ContentTypeJSON, int64(len(body)))
	})
	if err != nil {
		u.log.Warn("metadata sidecar upload failed", "key", key, "err", err)
	}
}

func (u *Uploader) publicURL(key string) string {
	return u.publicBase + "/" + key
}
