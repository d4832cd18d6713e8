package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

type captured struct {
	mu    sync.Mutex
	query map[string]string
	path  string
	body  map[string]interface{}
}

func newFakeSheet(t *testing.T, status int) (*Sheet, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		c.mu.Lock()
		c.path = r.URL.Path
		c.query = map[string]string{
			"valueInputOption": r.URL.Query().Get("valueInputOption"),
			"insertDataOption": r.URL.Query().Get("insertDataOption"),
		}
		c.body = body
		c.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, `{"error":{"code":403,"message":"denied"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","updates":{"updatedRange":"Foglio1!A2:E2","updatedRows":1}}`)
	}))
	t.Cleanup(srv.Close)
	s, err := NewSheet(context.Background(), "", "sheet-1", "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s, c
}

func TestAppendRowSendsOrderedValues(t *testing.T) {
	s, c := newFakeSheet(t, http.StatusOK)
	row := Row{Timestamp: "2025-07-01 10:30:00", Category: "Fauna e Flora", Description: "Orso avvistato", Latitude: 46.1, Longitude: 10.8}
	if err := s.AppendRow(context.Background(), row); err != nil {
		t.Fatalf("append: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "/v4/spreadsheets/sheet-1/values/A1:append" {
		t.Fatalf("path = %q", c.path)
	}
	if c.query["valueInputOption"] != "USER_ENTERED" || c.query["insertDataOption"] != "INSERT_ROWS" {
		t.Fatalf("options = %v", c.query)
	}
	values, ok := c.body["values"].([]interface{})
	if !ok || len(values) != 1 {
		t.Fatalf("values = %v", c.body["values"])
	}
	got := values[0].([]interface{})
	want := []interface{}{"2025-07-01 10:30:00", "Fauna e Flora", "Orso avvistato", 46.1, 10.8}
	if len(got) != len(want) {
		t.Fatalf("row = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d = %v want %v", i, got[i], want[i])
		}
	}
}

func TestAppendRowReturnsRemoteError(t *testing.T) {
	s, _ := newFakeSheet(t, http.StatusForbidden)
	if err := s.AppendRow(context.Background(), Row{Category: "Altro"}); err == nil {
		t.Fatal("expected error")
	}
}
