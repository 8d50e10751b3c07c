// Package pipeline sequences the stages of one task, owns error propagation
// and guaranteed cleanup, and assembles the terminal report.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cliplinehq/clipline/internal/ai"
	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/report"
	"github.com/cliplinehq/clipline/internal/store"
	"github.com/cliplinehq/clipline/internal/task"
)

// State names the orchestrator's position in the stage sequence.
type State string

const (
	StateValidating State = "validating"
	StateFetching   State = "fetching"
	StateUploading  State = "uploading"
	StateGenerating State = "generating"
	StateNotifying  State = "notifying"
	StateCleaning   State = "cleaning"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Stage interfaces. Production implementations live in fetch, store, ai and
// webhook; tests substitute doubles.
type MediaFetcher interface {
	Fetch(ctx context.Context, url, name, dir string) (*fetch.VideoInfo, error)
}

type Uploader interface {
	Upload(ctx context.Context, info *fetch.VideoInfo, tc *task.Context) (*store.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, info *fetch.VideoInfo, desc task.Descriptor) (*ai.Content, error)
}

type Notifier interface {
	Notify(ctx context.Context, rep *report.Report) error
}

// Orchestrator drives one task through fetch, upload, generate and notify.
type Orchestrator struct {
	log       *slog.Logger
	fetcher   MediaFetcher
	uploader  Uploader
	generator Generator
	notifier  Notifier
	state     State
}

func New(log *slog.Logger, f MediaFetcher, u Uploader, g Generator, n Notifier) *Orchestrator {
	return &Orchestrator{log: log, fetcher: f, uploader: u, generator: g, notifier: n, state: StateValidating}
}

// State returns the orchestrator's current (or terminal) state.
func (o *Orchestrator) State() State { return o.state }

// Run executes the pipeline for tc. It always returns a report: the Success
// variant with a nil error, or the Failure variant with the fatal stage
// error. Webhook delivery failure never surfaces through the error return;
// the report content is fixed before Notifying starts. Cleanup of the
// working directory is unconditional.
func (o *Orchestrator) Run(ctx context.Context, tc *task.Context) (*report.Report, error) {
	start := time.Now()
	// Both the happy path and Failed route through Cleaning before Done.
	defer func() {
		o.state = StateCleaning
		tc.Cleanup(o.log)
		o.state = StateDone
	}()

	log := o.log.With("task_id", tc.ID, "task_name", tc.TaskName)
	log.Info("task started", "url", tc.VideoURL)

	o.state = StateFetching
	info, err := o.fetcher.Fetch(ctx, tc.VideoURL, tc.TaskName, tc.WorkDir)
	if err != nil {
		return o.fail(ctx, log, tc, "media fetch", err)
	}

	o.state = StateUploading
	up, err := o.uploader.Upload(ctx, info, tc)
	if err != nil {
		return o.fail(ctx, log, tc, "storage upload", err)
	}

	o.state = StateGenerating
	content, err := o.generator.Generate(ctx, info, tc.Descriptor)
	if err != nil {
		return o.fail(ctx, log, tc, "content generation", err)
	}

	rep := report.NewSuccess(tc, info, up, content, time.Since(start))
	o.state = StateNotifying
	o.deliver(ctx, log, rep)

	log.Info("task completed", "duration", time.Since(start))
	return rep, nil
}

// fail absorbs the stage error into the Failed state, builds the failure
// report, attempts delivery, and passes the error up for the exit code.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, tc *task.Context, stage string, err error) (*report.Report, error) {
	o.state = StateFailed
	log.Error("stage failed", "stage", stage, "err", err)
	rep := report.NewFailure(tc, stage, err)
	o.deliver(ctx, log, rep)
	return rep, err
}

// deliver is best effort. A delivery failure is logged distinctly from a
// task failure and swallowed.
func (o *Orchestrator) deliver(ctx context.Context, log *slog.Logger, rep *report.Report) {
	if err := o.notifier.Notify(ctx, rep); err != nil {
		log.Error("report delivery failed", "err", err)
	}
}
