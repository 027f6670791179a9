package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/coldwatch/internal/engine"
)

func testCreds() Credentials {
	return Credentials{Key: "key", Secret: "secret", ProjectID: "p1"}
}

func TestHistoryFollowsPageTokens(t *testing.T) {
	var pagesServed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
			t.Errorf("missing or wrong basic auth: %q/%q", user, pass)
		}
		token := r.URL.Query().Get("pageToken")
		pagesServed = append(pagesServed, token)

		switch token {
		case "":
			fmt.Fprint(w, `{"events":[
				{"targetName":"projects/p1/devices/a","data":{"temperature":{"value":3.0,"updateTime":"2024-03-01T12:00:00Z"}}},
				{"targetName":"projects/p1/devices/a","data":{"temperature":{"value":3.1,"updateTime":"2024-03-01T12:05:00Z"}}}
			],"nextPageToken":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"events":[
				{"targetName":"projects/p1/devices/a","data":{"temperature":{"value":3.2,"updateTime":"2024-03-01T12:10:00Z"}}}
			],"nextPageToken":""}`)
		default:
			t.Errorf("unexpected pageToken %q", token)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testCreds())
	var got []engine.RawRecord
	err := c.History(HistoryOptions{DeviceID: "a"}).Events(context.Background(), func(rec engine.RawRecord) error {
		got = append(got, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	if len(got) != 3 {
		t.Errorf("received %d events, want 3", len(got))
	}
	if len(pagesServed) != 2 {
		t.Errorf("served %d pages, want 2 (%v)", len(pagesServed), pagesServed)
	}
	if *got[2].Data.Temperature.Value != 3.2 {
		t.Errorf("last value = %v, want 3.2", *got[2].Data.Temperature.Value)
	}
}

func TestHistoryPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testCreds())
	err := c.History(HistoryOptions{DeviceID: "a"}).Events(context.Background(), func(engine.RawRecord) error { return nil })
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestLiveStreamParsesSSEFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"result\":{\"event\":{\"targetName\":\"projects/p1/devices/a\",\"data\":{\"temperature\":{\"value\":4.2,\"updateTime\":\"2024-03-01T12:00:00Z\"}}}}}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"result\":{\"event\":{\"targetName\":\"projects/p1/devices/a\",\"data\":{\"temperature\":{\"value\":4.3,\"updateTime\":\"2024-03-01T12:05:00Z\"}}}}}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testCreds(), WithReconnects(0))
	var got []engine.RawRecord
	stop := fmt.Errorf("done")
	err := c.Live().Stream(context.Background(), func(rec engine.RawRecord) error {
		got = append(got, rec)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatalf("Stream error = %v, want handler stop error", err)
	}
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if *got[1].Data.Temperature.Value != 4.3 {
		t.Errorf("second value = %v, want 4.3", *got[1].Data.Temperature.Value)
	}
}

func TestLiveStreamGivesUpAfterReconnects(t *testing.T) {
	var connections int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections++
		// Close immediately: connection drop from the client's view.
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testCreds(), WithReconnects(2))
	err := c.Live().Stream(context.Background(), func(engine.RawRecord) error { return nil })
	if err == nil {
		t.Fatal("expected error after exhausting reconnects")
	}
	if connections != 3 {
		t.Errorf("made %d connections, want 3 (initial + 2 retries)", connections)
	}
}
