package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shockstream"
	"shockstream/internal/service"
)

func TestHistoryHandler_ListAndValidation(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	records := []shockstream.CommandRecord{
		{ID: "r1", DeviceID: "dev-1", Type: shockstream.CommandShock, Status: shockstream.StatusCompleted, CompletedAt: now},
		{ID: "r2", DeviceID: "dev-1", Type: shockstream.CommandVibrate, Status: shockstream.StatusFailed, CompletedAt: now.Add(-time.Minute)},
	}
	hist := &mockHistory{resp: records}
	r := newTestRouter(&service.Service{History: hist})

	// Invalid 'from' -> 400
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?from=notatime", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'from', got %d", w.Code)
	}

	// from > to -> 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/history?from=2025-02-01&to=2025-01-01", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 inverted range, got %d", w.Code)
	}

	// Invalid limit -> 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=-3", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid limit, got %d", w.Code)
	}

	// Valid filters; uppercase status should be normalized to lowercase.
	// Both bounds derive from the clock so the range stays valid forever.
	toDay := now.Add(48 * time.Hour)
	w = httptest.NewRecorder()
	q := "/api/v1/history?from=" + now.Add(-time.Hour).Format(time.RFC3339) +
		"&to=" + toDay.Format("2006-01-02") + "&device_id=dev-1&status=COMPLETED&limit=50"
	req = httptest.NewRequest(http.MethodGet, q, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("history status=%d, body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count   int                         `json:"count"`
		Records []shockstream.CommandRecord `json:"records"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 || len(out.Records) != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}
	f := hist.lastFilter
	if f.DeviceID != "dev-1" || f.Status != "completed" || f.Limit != 50 {
		t.Fatalf("filter not forwarded: %+v", f)
	}
	// Date-only 'to' is end-of-day inclusive.
	y, m, d := toDay.UTC().Date()
	if f.To.Before(time.Date(y, m, d, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("'to' not end-of-day: %v", f.To)
	}
}

func TestDevicesHandler(t *testing.T) {
	devs := &mockDevices{resp: []shockstream.Device{
		{ID: "s-1", Name: "Left", HubID: "hub-1", HubName: "Desk Hub", HubOnline: true},
	}}
	r := newTestRouter(&service.Service{Devices: devs})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("devices status=%d", w.Code)
	}
	var out struct {
		Count   int                  `json:"count"`
		Devices []shockstream.Device `json:"devices"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 1 || out.Devices[0].HubName != "Desk Hub" {
		t.Fatalf("unexpected response: %+v", out)
	}
}
