// Package webhook delivers the completion report to the workflow engine's
// callback endpoint. Delivery is best effort: its failure is logged as a
// delivery failure and never changes the task's own outcome.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/cliplinehq/clipline/internal/common"
	"github.com/cliplinehq/clipline/internal/config"
	"github.com/cliplinehq/clipline/internal/report"
	"github.com/cliplinehq/clipline/internal/retry"
)

// ErrorKind classifies a DeliveryError.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRejected
)

// DeliveryError is a failed callback delivery. Rejections (4xx other than
// 429) are not retried; the endpoint will not change its mind.
type DeliveryError struct {
	Kind       ErrorKind
	StatusCode int
	Msg        string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *DeliveryError) Unwrap() error   { return e.Err }
func (e *DeliveryError) Transient() bool { return e.Kind == KindTransient }

// Notifier POSTs reports, optionally signing them with the shared secret.
type Notifier struct {
	log        *slog.Logger
	httpClient *http.Client
	url        string
	secret     string
	policy     retry.Policy
	testMode   bool
}

func NewNotifier(log *slog.Logger, cfg config.WebhookConfig, testMode bool, policy retry.Policy) *Notifier {
	return &Notifier{
		log:        log,
		httpClient: &http.Client{},
		url:        cfg.URL,
		secret:     cfg.Secret,
		policy:     policy,
		testMode:   testMode,
	}
}

// Notify serializes and delivers one report, retrying transient failures up
// to the configured budget. A missing URL and test mode both skip delivery.
func (n *Notifier) Notify(ctx context.Context, rep *report.Report) error {
	if n.testMode {
		n.log.Info("test mode: skipping webhook delivery", "task_id", rep.TaskID())
		return nil
	}
	if n.url == "" {
		n.log.Warn("no webhook URL configured, skipping delivery", "task_id", rep.TaskID())
		return nil
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return &DeliveryError{Kind: KindRejected, Msg: "encode report", Err: err}
	}
	deliveryID := uuid.NewString()

	err = retry.Do(ctx, n.policy, retry.IsTransient, func(ctx context.Context) error {
		return n.post(ctx, body, deliveryID)
	})
	if err != nil {
		return err
	}
	n.log.Info("report delivered", "task_id", rep.TaskID(), "delivery_id", deliveryID)
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Kind: KindRejected, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	req.Header.Set("User-Agent", common.UserAgent)
	req.Header.Set(common.HeaderDeliveryID, deliveryID)
	if n.secret != "" {
		req.Header.Set(common.HeaderSignature, Sign(n.secret, body))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Kind: KindTransient, Msg: "post report", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &DeliveryError{
			Kind:       KindTransient,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("webhook status %d", resp.StatusCode),
		}
	default:
		return &DeliveryError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("webhook rejected with status %d", resp.StatusCode),
		}
	}
}

// Sign computes the signature header value: sha256=<hex hmac-sha256(body)>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return common.SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
