package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/court-matching/internal/logging"
)

// PushNotifier posts notifications to an FCM-style HTTP endpoint, addressed
// by per-user topic.
type PushNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(endpoint, key string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) Notify(ctx context.Context, n Notification) error {
	defer observe("notifications", "notify", time.Now())
	data := map[string]string{"type": n.Type}
	for k, v := range n.Metadata {
		data[k] = v
	}
	body := map[string]any{"message": map[string]any{
		"topic":        "user_" + n.UserID,
		"notification": map[string]string{"title": n.Title, "body": n.Message},
		"data":         data,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push notify: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push notify: %s", resp.Status)
	}
	return nil
}

// LogNotifier writes notifications to the log; used when no push endpoint is
// configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logging.OrDiscard(l.Logger).Info("notification", "user_id", n.UserID, "type", n.Type, "title", n.Title)
	return nil
}

// StaticDirectory maps business profile ids to the users acting for them.
type StaticDirectory map[string][]string

func (d StaticDirectory) OwnsProfile(_ context.Context, userID, businessProfileID string) (bool, error) {
	for _, u := range d[businessProfileID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}
