package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lox/nwpingest/internal/httputil"
)

// Service reports job outcomes to operators.
type Service interface {
	NotifyFailure(ctx context.Context, model string, err error) error
	NotifyExceptions(ctx context.Context, model string, exceptions int) error
}

// NewService returns an ntfy-backed service posting to topic, or a noop
// when topic is empty. topic is the full ntfy topic URL.
func NewService(topic string) Service {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   httputil.NewClientWithTimeout(10 * time.Second),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyFailure(ctx context.Context, model string, err error) error {
	msg := "unknown error"
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	return n.send(ctx, payload{
		title:    fmt.Sprintf("nwpingest - %s failed", model),
		message:  fmt.Sprintf("%s ingestion failed: %s", model, msg),
		tags:     []string{"nwpingest", strings.ToLower(model), "error"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyExceptions(ctx context.Context, model string, exceptions int) error {
	return n.send(ctx, payload{
		title:   fmt.Sprintf("nwpingest - %s completed with exceptions", model),
		message: fmt.Sprintf("%s ingestion finished with %d exceptions", model, exceptions),
		tags:    []string{"nwpingest", strings.ToLower(model), "warning"},
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyFailure(context.Context, string, error) error  { return nil }
func (noopService) NotifyExceptions(context.Context, string, int) error { return nil }
