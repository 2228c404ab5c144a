package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBooking calls the booking service's JSON API.
type HTTPBooking struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPBooking(endpoint string, timeout time.Duration) *HTTPBooking {
	return &HTTPBooking{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

func (b *HTTPBooking) CreateHold(ctx context.Context, userID string, req HoldRequest) (*Hold, error) {
	defer observe("booking", "create_hold", time.Now())
	payload := map[string]any{"userId": userID, "hold": req}
	var hold Hold
	if err := b.do(ctx, http.MethodPost, "/holds", payload, &hold); err != nil {
		return nil, fmt.Errorf("create hold: %w", err)
	}
	if hold.ID == "" {
		return nil, fmt.Errorf("create hold: empty booking id in response")
	}
	return &hold, nil
}

func (b *HTTPBooking) CancelHold(ctx context.Context, bookingID, reason string) error {
	defer observe("booking", "cancel_hold", time.Now())
	path := "/holds/" + url.PathEscape(bookingID) + "/cancel"
	if err := b.do(ctx, http.MethodPost, path, map[string]string{"reason": reason}, nil); err != nil {
		return fmt.Errorf("cancel hold %s: %w", bookingID, err)
	}
	return nil
}

func (b *HTTPBooking) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, b.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrUnknownBooking
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("booking service %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
