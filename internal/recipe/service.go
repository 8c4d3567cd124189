package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ayush/recipe-assistant/backend/internal/telemetry"
)

// ErrWebhookNotConfigured is returned when no webhook URL was set.
var ErrWebhookNotConfigured = errors.New("recipe webhook not configured")

const maxWebhookBody = 1 << 20

// checkResp returns an error if the status is not 2xx. Client errors are
// permanent; everything else may be retried.
func checkResp(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// WebhookClient calls the n8n recipe-generation webhook over HTTP.
type WebhookClient struct {
	url        string
	httpClient *http.Client
	maxTries   uint
}

// NewWebhookClient returns a client for url. A zero timeout disables the
// per-attempt deadline; maxTries of zero means a single attempt.
func NewWebhookClient(url string, timeout time.Duration, maxTries uint) *WebhookClient {
	if maxTries == 0 {
		maxTries = 1
	}
	return &WebhookClient{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   maxTries,
	}
}

type webhookMessage struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	ChatInput string `json:"chatInput"`
}

// Generate sends chatInput to the webhook and returns the cleaned recipe text.
func (c *WebhookClient) Generate(ctx context.Context, chatInput string) (string, error) {
	if c.url == "" {
		return "", ErrWebhookNotConfigured
	}

	body, err := json.Marshal([]webhookMessage{{
		SessionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Action:    "sendMessage",
		ChatInput: chatInput,
	}})
	if err != nil {
		return "", fmt.Errorf("webhook: encode: %w", err)
	}

	started := time.Now()
	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.post(ctx, body)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Recipe webhook call failed, retrying")
		}),
	)
	recordWebhook(ctx, started, err)
	if err != nil {
		return "", err
	}

	text, err := extractOutput(raw)
	if err != nil {
		return "", err
	}
	return cleanHTML(text), nil
}

func (c *WebhookClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("webhook: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("webhook: read body: %w", err)
	}
	return data, nil
}

// extractOutput pulls the recipe text out of the shapes n8n produces:
// [{"output": ...}], [{"json": {"output": ...}}] or {"output": ...}.
// Anything else is returned as its JSON text.
func extractOutput(raw []byte) (string, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("webhook: decode: %w", err)
	}

	switch v := data.(type) {
	case []any:
		if len(v) == 0 {
			return stringify(v), nil
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return stringify(v[0]), nil
		}
		if out, ok := first["output"].(string); ok {
			return out, nil
		}
		if inner, ok := first["json"].(map[string]any); ok {
			if out, ok := inner["output"]; ok {
				return stringify(out), nil
			}
		}
		return stringify(first), nil
	case map[string]any:
		if out, ok := v["output"]; ok {
			return stringify(out), nil
		}
		return stringify(v), nil
	default:
		return stringify(v), nil
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

var (
	lineBreakTag = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTag       = regexp.MustCompile(`<[^>]+>`)
	entities     = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">")
)

// cleanHTML turns line-break tags into newlines, strips other tags and
// decodes the few entities the webhook emits.
func cleanHTML(s string) string {
	s = lineBreakTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	return entities.Replace(s)
}

func recordWebhook(ctx context.Context, started time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.WebhookCallsTotal.Add(ctx, 1, attrs)
	m.WebhookDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
}
