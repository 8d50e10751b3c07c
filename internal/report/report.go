// Package report models the pipeline's terminal value: exactly one Success
// or Failure per invocation, serialized through one canonical encoder so the
// wire shape and the in-process model cannot drift.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cliplinehq/clipline/internal/ai"
	"github.com/cliplinehq/clipline/internal/common"
	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/store"
	"github.com/cliplinehq/clipline/internal/task"
)

// Report is the tagged variant. Exactly one of the two fields is set.
type Report struct {
	Success *Success
	Failure *Failure
}

// Succeeded reports which variant this is.
func (r *Report) Succeeded() bool { return r.Success != nil }

// TaskID works on either variant.
func (r *Report) TaskID() string {
	if r.Success != nil {
		return r.Success.TaskID
	}
	return r.Failure.TaskID
}

// MarshalJSON emits the active variant's fixed wire shape.
func (r *Report) MarshalJSON() ([]byte, error) {
	if r.Success != nil {
		return json.Marshal(r.Success)
	}
	if r.Failure != nil {
		return json.Marshal(r.Failure)
	}
	return nil, fmt.Errorf("report has no variant")
}

// Success is the full completion report.
type Success struct {
	Status           string          `json:"status"` // always "success"
	TaskID           string          `json:"task_id"`
	TaskName         string          `json:"task_name"`
	RowIndex         string          `json:"gsheet_row_index"`
	ProcessedTime    string          `json:"processed_time"`
	ProcessorVersion string          `json:"processor_version"`
	TaskData         TaskData        `json:"task_data"`
	VideoInfo        VideoInfo       `json:"video_info"`
	R2Data           R2Data          `json:"r2_data"`
	AIContent        ai.Content      `json:"ai_content"`
	Stats            ProcessingStats `json:"processing_stats"`
}

// Failure is the compact error report.
type Failure struct {
	Status           string `json:"status"` // always "failed"
	TaskID           string `json:"task_id"`
	TaskName         string `json:"task_name"`
	RowIndex         string `json:"gsheet_row_index"`
	ErrorMessage     string `json:"error_message"`
	ProcessedTime    string `json:"processed_time"`
	ProcessorVersion string `json:"processor_version"`
}

// TaskData echoes the descriptor back to the workflow engine.
type TaskData struct {
	TaskID       string `json:"task_id"`
	VideoURL     string `json:"video_url"`
	TaskName     string `json:"task_name"`
	RowIndex     string `json:"gsheet_row_index"`
	Assignee     string `json:"assignee,omitempty"`
	Photographer string `json:"photographer,omitempty"`
	ShootDate    string `json:"shoot_date,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// VideoInfo is the wire form of the fetched media metadata.
type VideoInfo struct {
	Title         string `json:"title"`
	Duration      int64  `json:"duration"`
	Uploader      string `json:"uploader"`
	Extractor     string `json:"extractor"`
	FileSize      int64  `json:"file_size"`
	VideoFile     string `json:"video_file"`
	ThumbnailFile string `json:"thumbnail_file"`
}

// R2Data is the wire form of the upload result.
type R2Data struct {
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Path         string `json:"r2_path"`
	Bucket       string `json:"bucket"`
	UploadTime   string `json:"upload_time"`
}

// ProcessingStats summarizes the run for the workflow engine's bookkeeping.
type ProcessingStats struct {
	ProcessingTime   string `json:"processing_time"`
	VideoSize        string `json:"video_size"`
	VideoDuration    int64  `json:"video_duration"`
	Success          bool   `json:"success"`
	ProcessorVersion string `json:"processor_version"`
}

// NewSuccess assembles the success variant from the stage outputs.
func NewSuccess(tc *task.Context, info *fetch.VideoInfo, up *store.Result, content *ai.Content, elapsed time.Duration) *Report {
	s := &Success{
		Status:           common.StatusSuccess,
		TaskID:           tc.ID,
		TaskName:         tc.TaskName,
		RowIndex:         tc.RowIndex,
		ProcessedTime:    time.Now().UTC().Format(time.RFC3339),
		ProcessorVersion: common.Version,
		TaskData: TaskData{
			TaskID:       tc.ID,
			VideoURL:     tc.VideoURL,
			TaskName:     tc.TaskName,
			RowIndex:     tc.RowIndex,
			Assignee:     tc.Assignee,
			Photographer: tc.Photographer,
			ShootDate:    tc.ShootDate,
			Notes:        tc.Notes,
		},
		VideoInfo: VideoInfo{
			Title:         info.Title,
			Duration:      info.Duration,
			Uploader:      info.Uploader,
			Extractor:     info.Extractor,
			FileSize:      info.FileSize,
			VideoFile:     info.VideoPath,
			ThumbnailFile: info.ThumbnailPath,
		},
		R2Data: R2Data{
			VideoURL:   up.Video.URL,
			Path:       up.BasePath,
			Bucket:     up.Bucket,
			UploadTime: up.UploadedAt.Format(time.RFC3339),
		},
		AIContent: *content,
		Stats: ProcessingStats{
			ProcessingTime:   fmt.Sprintf("%.2fs", elapsed.Seconds()),
			VideoSize:        humanize.Bytes(uint64(info.FileSize)),
			VideoDuration:    info.Duration,
			Success:          true,
			ProcessorVersion: common.Version,
		},
	}
	if up.Thumbnail != nil {
		s.R2Data.ThumbnailURL = up.Thumbnail.URL
	}
	return &Report{Success: s}
}

// NewFailure assembles the failure variant. The message is a single line
// naming the failing stage; stack traces and credentials never belong here.
func NewFailure(tc *task.Context, stage string, err error) *Report {
	return &Report{Failure: &Failure{
		Status:           common.StatusFailed,
		TaskID:           tc.ID,
		TaskName:         tc.TaskName,
		RowIndex:         tc.RowIndex,
		ErrorMessage:     FormatError(stage, err),
		ProcessedTime:    time.Now().UTC().Format(time.RFC3339),
		ProcessorVersion: common.Version,
	}}
}

// FormatError flattens err into the single-line "stage failed: cause" form.
func FormatError(stage string, err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	return fmt.Sprintf("%s failed: %s", stage, msg)
}
