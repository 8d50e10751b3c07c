package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/cliplinehq/clipline/internal/config"
)

// Descriptor is the caller-supplied record identifying one video task. All
// fields are opaque strings; RowIndex in particular is never interpreted,
// only echoed back in the report.
type Descriptor struct {
	VideoURL     string
	TaskName     string
	RowIndex     string
	Assignee     string
	Photographer string
	ShootDate    string
	Notes        string
}

// FromConfig copies the validated task fields into an immutable Descriptor.
func FromConfig(tc config.TaskConfig) Descriptor {
	return Descriptor{
		VideoURL:     tc.VideoURL,
		TaskName:     tc.TaskName,
		RowIndex:     tc.RowIndex,
		Assignee:     tc.Assignee,
		Photographer: tc.Photographer,
		ShootDate:    tc.ShootDate,
		Notes:        tc.Notes,
	}
}

// Context carries the task identity and the private working directory for
// one invocation. It is created once and read-only afterwards; the working
// directory is removed unconditionally by Cleanup at pipeline end.
type Context struct {
	Descriptor
	ID      string
	WorkDir string
	Started time.Time
}

// NewContext generates the task ID and creates the working directory.
func NewContext(desc Descriptor) (*Context, error) {
	now := time.Now().UTC()
	id := GenerateID(desc.VideoURL, now)
	dir, err := os.MkdirTemp("", "clipline_"+id+"_")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	return &Context{
		Descriptor: desc,
		ID:         id,
		WorkDir:    dir,
		Started:    now,
	}, nil
}

// GenerateID composes a millisecond-resolution UTC timestamp with a short
// hash of the source URL. IDs are unique per invocation and sort
// lexicographically in creation order.
func GenerateID(sourceURL string, now time.Time) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102T150405.000"), hex.EncodeToString(sum[:4]))
}

// Cleanup removes the working directory and everything in it. Errors are
// logged, never escalated; disposal must not change the task outcome.
func (c *Context) Cleanup(log *slog.Logger) {
	if c.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(c.WorkDir); err != nil {
		log.Warn("working directory cleanup failed", "task_id", c.ID, "dir", c.WorkDir, "err", err)
		return
	}
	log.Info("working directory removed", "task_id", c.ID, "dir", c.WorkDir)
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]|[\x00-\x1f\x7f]`)

// SanitizeName makes a task name safe to use in file and object names.
func SanitizeName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if runes := []rune(safe); len(runes) > 100 {
		safe = string(runes[:100])
	}
	return safe
}
