package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/retry"
	"github.com/cliplinehq/clipline/internal/task"
)

// Capability is the boundary to the language model. The production
// implementation is an OpenAI-compatible chat completions client
// (internal/ai/openai).
type Capability interface {
	// Complete sends one prompt and returns the model's raw text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Content is the structured editorial bundle the model produces. The JSON
// keys are the Traditional-Chinese field names the downstream workflow
// consumes verbatim.
type Content struct {
	Titles        []string       `json:"標題建議"`
	Summary       string         `json:"內容摘要"`
	Tags          []string       `json:"標籤建議"`
	Audience      string         `json:"目標受眾"`
	Category      string         `json:"內容分類"`
	SEOKeywords   []string       `json:"SEO關鍵詞"`
	Schedule      ScheduleAdvice `json:"發布建議"`
	CreativeNotes string         `json:"創意要點"`
}

// ScheduleAdvice is the publish-planning block inside Content.
type ScheduleAdvice struct {
	BestTime   string   `json:"最佳時段"`
	Platforms  []string `json:"平台適配"`
	Frequency  string   `json:"發布頻率"`
	Engagement string   `json:"互動策略"`
}

// ErrorKind classifies a GenerationError.
type ErrorKind int

const (
	// KindTimeout covers timed-out and otherwise failed model requests.
	KindTimeout ErrorKind = iota
	// KindMalformed means the model responded but never produced a payload
	// matching the Content shape within the retry budget.
	KindMalformed
)

// GenerationError is the content stage's terminal error. Unlike thumbnails
// or sidecars, this stage failing fails the whole task.
type GenerationError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports true for both kinds: a fresh request may beat a timeout,
// and a fresh completion may parse. The final surfaced kind still tells the
// two apart.
func (e *GenerationError) Transient() bool { return true }

const maxTitleRunes = 30

// Generator builds the planning prompt and parses the model's response.
type Generator struct {
	log    *slog.Logger
	model  Capability
	policy retry.Policy
}

func NewGenerator(log *slog.Logger, model Capability, policy retry.Policy) *Generator {
	return &Generator{log: log, model: model, policy: policy}
}

// Generate produces the content bundle for one task. Requests and malformed
// responses are retried within the stage budget; exhaustion surfaces the
// last attempt's classified error.
func (g *Generator) Generate(ctx context.Context, info *fetch.VideoInfo, desc task.Descriptor) (*Content, error) {
	prompt := buildPrompt(info, desc)
	var content *Content

	attempt := 0
	err := retry.Do(ctx, g.policy, retry.IsTransient, func(ctx context.Context) error {
		attempt++
		raw, err := g.model.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return &GenerationError{Kind: KindTimeout, Msg: "model request timed out", Err: err}
			}
			return &GenerationError{Kind: KindTimeout, Msg: "model request failed", Err: err}
		}
		parsed, err := parseContent(raw)
		if err != nil {
			g.log.Warn("model response malformed", "attempt", attempt, "err", err)
			return &GenerationError{Kind: KindMalformed, Msg: "model response malformed", Err: err}
		}
		content = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Info("content generated", "titles", len(content.Titles), "tags", len(content.Tags))
	return content, nil
}

// buildPrompt renders the planning request deterministically from the
// available metadata, in the house Traditional-Chinese template.
func buildPrompt(info *fetch.VideoInfo, desc task.Descriptor) string {
	var b strings.Builder
	b.WriteString("作為專業的短影音內容策劃師，請根據以下資訊生成適合台灣市場的內容：\n\n")
	b.WriteString("## 影片資訊\n")
	fmt.Fprintf(&b, "- 任務名稱：%s\n", desc.TaskName)
	fmt.Fprintf(&b, "- 負責人：%s\n", desc.Assignee)
	fmt.Fprintf(&b, "- 攝影師：%s\n", desc.Photographer)
	fmt.Fprintf(&b, "- 影片時長：%d 秒\n", info.Duration)
	fmt.Fprintf(&b, "- 原始標題：%s\n", info.Title)
	fmt.Fprintf(&b, "- 來源平台：%s\n", info.Extractor)
	fmt.Fprintf(&b, "- 備註：%s\n\n", desc.Notes)
	b.WriteString(`## 請生成以下內容（JSON格式）：
{
  "標題建議": ["15字內吸睛標題1", "15字內吸睛標題2", "15字內吸睛標題3", "15字內吸睛標題4", "15字內吸睛標題5"],
  "內容摘要": "50字內的影片重點描述，突出價值點",
  "標籤建議": ["#標籤1", "#標籤2", "#標籤3", "#標籤4", "#標籤5"],
  "目標受眾": "描述主要觀眾群體特徵",
  "內容分類": "影片類型分類（如：教學、娛樂、生活等）",
  "發布建議": {
    "最佳時段": "建議發布時間段",
    "平台適配": ["最適合的平台1", "適合的平台2"],
    "發布頻率": "建議的發布頻率",
    "互動策略": "提升互動的做法"
  },
  "創意要點": "列出3-5個內容亮點",
  "SEO關鍵詞": ["關鍵詞1", "關鍵詞2", "關鍵詞3"]
}

## 要求：
- 標題要有情緒張力和點擊慾望
- 標籤要混合熱門和長尾關鍵詞
- 內容要符合台灣短影音生態和用語習慣
- 考慮當前熱門趨勢
`)
	return b.String()
}

// parseContent decodes and validates one model response. Required fields
// must be present and well formed; optional fields may be empty (partial
// generation is tolerated).
func parseContent(raw string) (*Content, error) {
	raw = stripFences(raw)
	var c Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(c.Titles) == 0 {
		return nil, errors.New("missing 標題建議")
	}
	for _, title := range c.Titles {
		if utf8.RuneCountInString(title) > maxTitleRunes {
			return nil, fmt.Errorf("title too long: %q", title)
		}
	}
	if strings.TrimSpace(c.Summary) == "" {
		return nil, errors.New("missing 內容摘要")
	}
	if len(c.Tags) == 0 {
		return nil, errors.New("missing 標籤建議")
	}
	for _, tag := range c.Tags {
		if !strings.HasPrefix(tag, "#") {
			return nil, fmt.Errorf("tag without # prefix: %q", tag)
		}
	}
	if strings.TrimSpace(c.Audience) == "" {
		return nil, errors.New("missing 目標受眾")
	}
	return &c, nil
}

// stripFences removes a ```json ... ``` wrapper some models insist on.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
