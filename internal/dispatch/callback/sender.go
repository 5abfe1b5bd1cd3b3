package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
)

// HTTPSender posts delivery items to their target URL. It serves both the
// webhook kind and the notification webhook channel.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

// Send performs the HTTP POST. 2xx is success; 429 and 5xx are transient;
// other 4xx are permanent.
func (s *HTTPSender) Send(ctx context.Context, item *domain.DeliveryItem) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.Target, bytes.NewReader(item.Payload))
	if err != nil {
		return &delivery.PermanentError{Err: fmt.Errorf("malformed target %q: %w", item.Target, err)}
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("post failed: %w", err)}
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &delivery.TransientError{Err: fmt.Errorf("target returned %d", resp.StatusCode)}
	default:
		return &delivery.PermanentError{Err: fmt.Errorf("target returned %d", resp.StatusCode)}
	}
}
