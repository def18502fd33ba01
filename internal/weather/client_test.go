package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telemetry-hub/internal/model"
	"telemetry-hub/internal/store"
)

const upstreamBody = `{
	"latitude": 47.5,
	"longitude": 19.0625,
	"elevation": 113.0,
	"timezone": "Europe/Budapest",
	"current_weather": {
		"temperature": 24.3,
		"windspeed": 11.2,
		"winddirection": 230.0,
		"weathercode": 3,
		"is_day": 1,
		"time": "2025-06-01T14:00"
	}
}`

func TestCurrentParsesUpstreamShape(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"latitude":        q.Get("latitude"),
			"longitude":       q.Get("longitude"),
			"current_weather": q.Get("current_weather"),
			"timezone":        q.Get("timezone"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ev, err := c.Current(context.Background(), 47.4979, 19.0402)
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	if gotQuery["latitude"] != "47.4979" || gotQuery["longitude"] != "19.0402" {
		t.Fatalf("coordinates sent = %v", gotQuery)
	}
	if gotQuery["current_weather"] != "true" || gotQuery["timezone"] != "auto" {
		t.Fatalf("query = %v", gotQuery)
	}

	if ev.Temperature != 24.3 || ev.Windspeed != 11.2 || ev.Weathercode != 3 || ev.IsDay != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Source != store.WeatherSourceAPI {
		t.Fatalf("source = %q", ev.Source)
	}
	want := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestCurrentUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Current(context.Background(), 47.5, 19.0); err == nil {
		t.Fatal("expected error on non-200 upstream")
	}
}

func TestCurrentTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Current(ctx, 47.5, 19.0)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want ErrUpstreamTimeout", err)
	}
}

func TestCurrentMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Current(context.Background(), 47.5, 19.0); err == nil {
		t.Fatal("expected error on malformed body")
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	ev := model.WeatherEvent{Temperature: 21}

	if _, ok := c.Get("k"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set("k", ev)
	got, ok := c.Get("k")
	if !ok || got.Temperature != 21 {
		t.Fatalf("cache hit = %+v %v", got, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned a hit")
	}
}
