package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cliplinehq/clipline/internal/ai"
	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/report"
	"github.com/cliplinehq/clipline/internal/store"
	"github.com/cliplinehq/clipline/internal/task"
)

type fetcherMock struct {
	info *fetch.VideoInfo
	err  error
}

func (m *fetcherMock) Fetch(ctx context.Context, url, name, dir string) (*fetch.VideoInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.info, nil
}

type uploaderMock struct {
	calls int
	res   *store.Result
	err   error
}

func (m *uploaderMock) Upload(ctx context.Context, info *fetch.VideoInfo, tc *task.Context) (*store.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

type generatorMock struct {
	calls   int
	content *ai.Content
	err     error
}

func (m *generatorMock) Generate(ctx context.Context, info *fetch.VideoInfo, desc task.Descriptor) (*ai.Content, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.content, nil
}

type notifierMock struct {
	mu      sync.Mutex
	reports []*report.Report
	err     error
}

func (m *notifierMock) Notify(ctx context.Context, rep *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rep)
	return m.err
}

func (m *notifierMock) last(t *testing.T) *report.Report {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		t.Fatalf("no report delivered")
	}
	return m.reports[len(m.reports)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTaskContext(t *testing.T) *task.Context {
	t.Helper()
	tc, err := task.NewContext(task.Descriptor{
		VideoURL: "https://example.com/watch?v=abc",
		TaskName: "weekly clip",
		RowIndex: "42",
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return tc
}

func happyMocks() (*fetcherMock, *uploaderMock, *generatorMock, *notifierMock) {
	f := &fetcherMock{info: &fetch.VideoInfo{
		Title: "A clip", Duration: 30, Uploader: "chan", Extractor: "youtube",
		FileSize: 1 << 20, VideoPath: "/work/media.mp4", ThumbnailPath: "/work/thumb.jpg",
	}}
	u := &uploaderMock{res: &store.Result{
		Video:      store.Object{URL: "https://cdn/videos/v.mp4", Key: "videos/v.mp4"},
		Thumbnail:  &store.Object{URL: "https://cdn/videos/t.jpg", Key: "videos/t.jpg"},
		Bucket:     "video-automation",
		BasePath:   "videos/2025/08/29",
		UploadedAt: time.Now().UTC(),
	}}
	g := &generatorMock{content: &ai.Content{
		Titles:   []string{"一", "二", "三", "四", "五"},
		Summary:  "摘要",
		Tags:     []string{"#a", "#b"},
		Audience: "大家",
	}}
	return f, u, g, &notifierMock{}
}

// Scenario A: valid short video under the ceilings produces a full success
// report with populated video and storage data and five title candidates.
func TestRun_Success(t *testing.T) {
	f, u, g, n := happyMocks()
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	rep, err := o.Run(context.Background(), tc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Succeeded() {
		t.Fatalf("expected success variant")
	}
	s := rep.Success
	if s.VideoInfo.Title == "" || s.R2Data.VideoURL == "" {
		t.Errorf("success report incomplete: %+v", s)
	}
	if len(s.AIContent.Titles) != 5 {
		t.Errorf("title candidates = %d, want 5", len(s.AIContent.Titles))
	}
	if delivered := n.last(t); !delivered.Succeeded() {
		t.Errorf("delivered report should be the success variant")
	}
	if o.State() != StateDone {
		t.Errorf("state = %s", o.State())
	}
	if _, err := os.Stat(tc.WorkDir); !os.IsNotExist(err) {
		t.Errorf("workdir should be cleaned up")
	}
}

// Scenario B: a policy violation during fetch short-circuits before upload,
// produces a failure report naming the violation, and still cleans up.
func TestRun_PolicyViolationShortCircuits(t *testing.T) {
	_, u, g, n := happyMocks()
	f := &fetcherMock{err: &fetch.DownloadError{
		Kind: fetch.KindPolicyViolation,
		Msg:  "policy violation: duration 700s exceeds limit 10m0s",
	}}
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	rep, err := o.Run(context.Background(), tc)
	if err == nil {
		t.Fatalf("expected pipeline error")
	}
	if u.calls != 0 {
		t.Errorf("uploader must never run after a policy violation")
	}
	if g.calls != 0 {
		t.Errorf("generator must never run after a fetch failure")
	}
	if rep.Succeeded() {
		t.Fatalf("expected failure variant")
	}
	if !strings.Contains(rep.Failure.ErrorMessage, "policy violation") {
		t.Errorf("error_message = %q", rep.Failure.ErrorMessage)
	}
	if !strings.HasPrefix(rep.Failure.ErrorMessage, "media fetch failed: ") {
		t.Errorf("error_message must name the stage: %q", rep.Failure.ErrorMessage)
	}
	if _, err := os.Stat(tc.WorkDir); !os.IsNotExist(err) {
		t.Errorf("workdir should be cleaned up on failure too")
	}
}

// Scenario C (orchestration half): an exhausted generation budget routes to
// a failure report; upload has already happened, notify gets the failure.
func TestRun_GenerationFailureIsFatal(t *testing.T) {
	f, u, _, n := happyMocks()
	g := &generatorMock{err: &ai.GenerationError{Kind: ai.KindTimeout, Msg: "model request timed out"}}
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	rep, err := o.Run(context.Background(), tc)
	var genErr *ai.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v", err)
	}
	if rep.Succeeded() {
		t.Fatalf("expected failure variant")
	}
	if !strings.HasPrefix(rep.Failure.ErrorMessage, "content generation failed: ") {
		t.Errorf("error_message = %q", rep.Failure.ErrorMessage)
	}
	if u.calls != 1 {
		t.Errorf("upload should have run before generation")
	}
}

// Scenario D: an unreachable webhook leaves the task outcome untouched.
func TestRun_DeliveryFailureDoesNotFailTask(t *testing.T) {
	f, u, g, n := happyMocks()
	n.err = errors.New("connection refused")
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	rep, err := o.Run(context.Background(), tc)
	if err != nil {
		t.Fatalf("delivery failure must not fail the task: %v", err)
	}
	if !rep.Succeeded() {
		t.Fatalf("expected success variant")
	}
}

func TestRun_UploadFailure(t *testing.T) {
	f, _, g, n := happyMocks()
	u := &uploaderMock{err: &store.UploadError{Kind: store.KindAuth, Msg: "access denied"}}
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	rep, err := o.Run(context.Background(), tc)
	if err == nil || rep.Succeeded() {
		t.Fatalf("expected upload failure, got rep=%+v err=%v", rep, err)
	}
	if g.calls != 0 {
		t.Errorf("generator must not run after upload failure")
	}
	if !strings.HasPrefix(rep.Failure.ErrorMessage, "storage upload failed: ") {
		t.Errorf("error_message = %q", rep.Failure.ErrorMessage)
	}
}

func TestRun_FailureReportStillDelivered(t *testing.T) {
	_, u, g, n := happyMocks()
	f := &fetcherMock{err: &fetch.DownloadError{Kind: fetch.KindTransient, Msg: "network timeout"}}
	o := New(discardLogger(), f, u, g, n)
	tc := newTaskContext(t)

	_, _ = o.Run(context.Background(), tc)
	if delivered := n.last(t); delivered.Succeeded() {
		t.Fatalf("failure report should be delivered to the webhook")
	}
}
