package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metalwatch/internal/model"
)

// Notification 封装一次采集运行的告警上下文。
type Notification struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Failed     []model.SourceStatus
	Flagged    []model.Quote
	Total      int
}

// Empty reports whether there is nothing worth sending.
func (n Notification) Empty() bool {
	return len(n.Failed) == 0 && len(n.Flagged) == 0
}

// fingerprint identifies the alert condition independent of the run, so a
// condition that persists across runs can be throttled.
func (n Notification) fingerprint() string {
	keys := make([]string, 0, len(n.Failed)+len(n.Flagged))
	for _, f := range n.Failed {
		keys = append(keys, "fail:"+f.Source)
	}
	for _, q := range n.Flagged {
		keys = append(keys, string(q.Quality)+":"+q.Key().String())
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID.String()).
		Int("failed", len(note.Failed)).
		Int("flagged", len(note.Flagged)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[metalwatch run alert]\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	builder.WriteString(fmt.Sprintf("Started: %s UTC\n", note.StartedAt.UTC().Format(time.RFC3339)))
	if !note.FinishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", note.FinishedAt.Sub(note.StartedAt).Round(time.Millisecond)))
	}
	if len(note.Failed) > 0 {
		builder.WriteString(fmt.Sprintf("Failed sources (%d/%d):\n", len(note.Failed), note.Total))
		for _, f := range note.Failed {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", f.Source, f.Message))
		}
	}
	if len(note.Flagged) > 0 {
		builder.WriteString("Flagged quotes:\n")
		for _, q := range note.Flagged {
			line := fmt.Sprintf("  - %s %s %s %s", q.Key(), q.Quality, q.Primary.String(), q.Unit)
			if q.Backup.Valid {
				line += fmt.Sprintf(" (backup %s)", q.Backup.Decimal.String())
			}
			builder.WriteString(line + "\n")
		}
	}
	return builder.String()
}

// Throttled drops notifications whose condition was already sent within
// Cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottled wraps next. A non-positive cooldown disables throttling.
func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{next: next, cooldown: cooldown, now: time.Now, last: make(map[string]time.Time)}
}

func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	if t.cooldown > 0 {
		key := note.fingerprint()
		t.mu.Lock()
		sent, seen := t.last[key]
		now := t.now()
		if seen && now.Sub(sent) < t.cooldown {
			t.mu.Unlock()
			return nil
		}
		t.last[key] = now
		t.mu.Unlock()
	}
	return t.next.Notify(ctx, note)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Throttled)(nil)
)
