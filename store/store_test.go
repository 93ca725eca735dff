package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateDevice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.GetOrCreateDevice(ctx, "aa:bb:cc:dd:ee:ff", "192.168.1.50", "laptop", "Dell")
	if err != nil {
		t.Fatalf("GetOrCreateDevice() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("GetOrCreateDevice() returned a zero ID for a new device")
	}

	again, err := s.GetOrCreateDevice(ctx, "aa:bb:cc:dd:ee:ff", "192.168.1.99", "laptop-renamed", "Dell")
	if err != nil {
		t.Fatalf("GetOrCreateDevice() second call error = %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("GetOrCreateDevice() id = %d, want %d (same MAC should reuse the row)", again.ID, created.ID)
	}
	if again.IP != "192.168.1.99" {
		t.Errorf("GetOrCreateDevice() IP = %q, want the refreshed address", again.IP)
	}
}

func TestInsertAndUpdateHTTPFlow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertHTTPFlow(ctx, HTTPFlow{
		Timestamp: time.Now(),
		Method:    "GET",
		URL:       "http://example.com/login",
		Host:      "example.com",
		Path:      "/login",
	})
	if err != nil {
		t.Fatalf("InsertHTTPFlow() error = %v", err)
	}
	if id == 0 {
		t.Fatal("InsertHTTPFlow() returned a zero id")
	}

	if err := s.UpdateHTTPFlowResponse(ctx, id, 200, "<html>ok</html>", 42, "private", `[]`); err != nil {
		t.Fatalf("UpdateHTTPFlowResponse() error = %v", err)
	}

	results, err := s.SearchTraffic(ctx, "login", 10)
	if err != nil {
		t.Fatalf("SearchTraffic() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchTraffic() returned %d results, want 1", len(results))
	}
	if results[0].StatusCode != 200 {
		t.Errorf("SearchTraffic() status = %d, want 200", results[0].StatusCode)
	}
	if !strings.Contains(results[0].Highlight, "[login]") {
		t.Errorf("SearchTraffic() highlight = %q, want a [login] marker", results[0].Highlight)
	}
}

func TestExportDevicesCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.GetOrCreateDevice(ctx, "11:22:33:44:55:66", "10.0.0.5", "phone", "Apple"); err != nil {
		t.Fatalf("GetOrCreateDevice() error = %v", err)
	}

	var buf strings.Builder
	n, err := s.ExportDevices(ctx, &buf, "csv")
	if err != nil {
		t.Fatalf("ExportDevices() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ExportDevices() count = %d, want 1", n)
	}
	if !strings.Contains(buf.String(), "11:22:33:44:55:66") {
		t.Errorf("ExportDevices() csv output missing device: %q", buf.String())
	}
}

func TestCleanupRemovesOldRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -30)
	if _, err := s.InsertHTTPFlow(ctx, HTTPFlow{Timestamp: old, Method: "GET", URL: "http://old.example.com/", Host: "old.example.com"}); err != nil {
		t.Fatalf("InsertHTTPFlow() error = %v", err)
	}
	if _, err := s.InsertHTTPFlow(ctx, HTTPFlow{Timestamp: time.Now(), Method: "GET", URL: "http://new.example.com/", Host: "new.example.com"}); err != nil {
		t.Fatalf("InsertHTTPFlow() error = %v", err)
	}

	n, err := s.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Cleanup() removed %d rows, want 1", n)
	}
}
