package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"park_reports/internal/records"
)

func TestGroupMePostsPayload(t *testing.T) {
	got := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewGroupMe("bot-1", srv.URL)
	if err := g.Notify(context.Background(), Message{Text: "ciao"}); err != nil {
		t.Fatal(err)
	}
	body := <-got
	if body["bot_id"] != "bot-1" || body["text"] != "ciao" {
		t.Fatalf("payload = %v", body)
	}
}

func TestGroupMeErrorsAndDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewGroupMe("bot-1", srv.URL).Notify(context.Background(), Message{Text: "x"}); err == nil {
		t.Fatal("expected status error")
	}
	if err := NewGroupMe("", srv.URL).Notify(context.Background(), Message{Text: "x"}); err != nil {
		t.Fatalf("disabled notifier should be a no-op, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	msg := Summary(records.Report{Category: "Fauna e Flora", Description: "Orso avvistato", Latitude: 46.1, Longitude: 10.8, Timestamp: "2025-07-01 10:30:00"})
	for _, want := range []string{"Fauna e Flora", "Orso avvistato", "46.10000", "10.80000", "2025-07-01 10:30:00", "q=46.100000,10.800000"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("summary %q missing %q", msg.Text, want)
		}
	}
	if strings.Contains(Summary(records.Report{Category: "Altro"}).Text, " - ") {
		t.Fatal("empty description should be omitted")
	}
}
