package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Push-уведомления через polling-сервис: POST {base}/{kind}_{user}/send
type PollingNotifier struct {
	client  *http.Client
	baseURL string
	auth    string
	limiter *rate.Limiter
}

func NewPollingNotifier(baseURL string, auth string, perSecond float64) (*PollingNotifier, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("env POLLING_BASE_URL is not set")
	}
	if perSecond <= 0 {
		perSecond = 50
	}
	return &PollingNotifier{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
	}, nil
}

func (p *PollingNotifier) Notify(ctx context.Context, userID string, kind string, data any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	url := p.baseURL + "/" + kind + "_" + userID + "/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Polling-Authentication", p.auth)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("polling service HTTP error: %s", resp.Status)
	}
	return nil
}
