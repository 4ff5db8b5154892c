package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/archive"
	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/results"
)

func newTestServer(t *testing.T) (*httptest.Server, *generation.Tracker) {
	t.Helper()
	tracker := generation.NewTracker(generation.Options{})
	srv := httptest.NewServer(New(tracker, func() bool { return true }, nil, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv, tracker
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestStatusAndResults(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.MarkPending("p2")
	tracker.BeginSubmission()
	tracker.Merge(context.Background(), &results.Job{
		PromptID: "p1",
		Status:   results.StatusCompleted,
		Outputs:  []results.Output{{Name: "a.png", ContentType: "image/png", Source: results.RemoteRef{URL: "https://cdn/a.png"}}},
	})

	resp, body := get(t, srv.URL+"/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Unexpected status %d", resp.StatusCode)
	}
	var status statusResponse
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("Bad status body %s: %v", body, err)
	}
	if !status.Connected || status.Loading || status.Results != 1 || len(status.Pending) != 1 || status.Pending[0] != "p2" {
		t.Errorf("Unexpected status %+v", status)
	}

	_, body = get(t, srv.URL+"/api/results")
	if !strings.Contains(body, `"url":"https://cdn/a.png"`) || !strings.Contains(body, `"kind":"image"`) {
		t.Errorf("Unexpected results body %s", body)
	}

	resp, _ = get(t, srv.URL+"/api/results/p1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected p1 to be found, got %d", resp.StatusCode)
	}
	resp, _ = get(t, srv.URL+"/api/results/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	resp, _ = get(t, srv.URL+"/api/history")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without an archive, got %d", resp.StatusCode)
	}
}

func TestBlobLifecycle(t *testing.T) {
	srv, tracker := newTestServer(t)
	tracker.Merge(context.Background(), &results.Job{
		PromptID: "p1",
		Status:   results.StatusCompleted,
		Outputs:  []results.Output{{Name: "a.png", ContentType: "image/png", Source: results.LocalBlob{Data: []byte("png-bytes")}}},
	})
	g, _ := tracker.Generation("p1")
	id, ok := results.BlobID(g.Outputs[0].URL)
	if !ok {
		t.Fatalf("Expected a blob URL, got %q", g.Outputs[0].URL)
	}

	resp, body := get(t, srv.URL+"/blobs/"+id)
	if resp.StatusCode != http.StatusOK || body != "png-bytes" || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("Unexpected blob response %d %q %q", resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}

	tracker.Close()
	resp, _ = get(t, srv.URL+"/blobs/"+id)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after release, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Errorf("Unexpected health response %d %q", resp.StatusCode, body)
	}
	resp, _ = get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected metrics to be served, got %d", resp.StatusCode)
	}
}

func TestHistoryFromArchive(t *testing.T) {
	arch, err := archive.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer arch.Close()
	for _, id := range []string{"p1", "p2", "p3"} {
		arch.Record(context.Background(), &results.Job{PromptID: id, Status: results.StatusCompleted, Outputs: []results.Output{}})
	}

	tracker := generation.NewTracker(generation.Options{})
	srv := httptest.NewServer(New(tracker, nil, arch, zerolog.Nop()).Router())
	defer srv.Close()

	resp, body := get(t, srv.URL+"/api/history?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Unexpected status %d: %s", resp.StatusCode, body)
	}
	var jobs []results.Job
	if err := json.Unmarshal([]byte(body), &jobs); err != nil {
		t.Fatalf("Bad body %s: %v", body, err)
	}
	if len(jobs) != 2 || jobs[0].PromptID != "p3" {
		t.Errorf("Expected the 2 newest jobs, got %+v", jobs)
	}

	resp, _ = get(t, srv.URL+"/api/history?limit=x")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", resp.StatusCode)
	}
}
