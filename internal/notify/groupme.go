package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"park_reports/internal/records"
)

// DefaultGroupMeURL is the bot post endpoint.
const DefaultGroupMeURL = "https://api.groupme.com/v3/bots/post"

// Message represents an outbound staff notification.
type Message struct {
	Text string `json:"text"`
}

// Notifier delivers a staff notification.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// GroupMe posts to a GroupMe bot.
type GroupMe struct {
	BotID  string
	URL    string
	Client *http.Client
}

func NewGroupMe(botID, url string) *GroupMe {
	if url == "" {
		url = DefaultGroupMeURL
	}
	return &GroupMe{BotID: botID, URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify posts the message if a bot id is configured.
func (g *GroupMe) Notify(ctx context.Context, msg Message) error {
	if g == nil || g.BotID == "" {
		return nil
	}
	payload := map[string]string{"text": msg.Text, "bot_id": g.BotID}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewBuffer(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("groupme status %d", resp.StatusCode)
	}
	return nil
}

// Summary renders a one-line staff notification for a report.
func Summary(r records.Report) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Nuova segnalazione: %s", r.Category)
	if d := strings.TrimSpace(r.Description); d != "" {
		fmt.Fprintf(&b, " - %s", d)
	}
	fmt.Fprintf(&b, " (%.5f, %.5f) %s", r.Latitude, r.Longitude, r.Timestamp)
	fmt.Fprintf(&b, " https://maps.google.com/?q=%.6f,%.6f", r.Latitude, r.Longitude)
	return Message{Text: b.String()}
}
