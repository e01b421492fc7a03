package repo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestListWorkersMapsDynos(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := NewPlatformClient("https://api.example.com", "shop", "secret", time.Second)
	client.now = func() time.Time { return now }
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet || req.URL.Path != "/apps/shop/dynos" {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		if req.Header.Get("Accept") != platformAccept {
			t.Fatalf("unexpected accept header: %s", req.Header.Get("Accept"))
		}
		return jsonResponse(t, http.StatusOK, []map[string]any{
			{"name": "web.1", "type": "web", "state": "up", "updated_at": now.Add(-10 * time.Minute)},
			{"name": "web.2", "type": "web", "state": "starting", "updated_at": now.Add(-5 * time.Second)},
			{"name": "worker.1", "type": "worker", "state": "up", "updated_at": now.Add(-time.Hour)},
		}), nil
	}))

	snapshots, err := client.ListWorkers(context.Background(), "web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 web dynos, got %+v", snapshots)
	}
	if snapshots[0].ID != "web.1" || !snapshots[0].IsUp() || snapshots[0].Uptime != 10*time.Minute {
		t.Fatalf("unexpected first snapshot: %+v", snapshots[0])
	}
	if snapshots[1].IsUp() || snapshots[1].Uptime != 5*time.Second {
		t.Fatalf("unexpected second snapshot: %+v", snapshots[1])
	}
}

func TestListWorkersUpstreamError(t *testing.T) {
	client := NewPlatformClient("https://api.example.com", "shop", "", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusUnauthorized, map[string]string{"id": "unauthorized", "message": "Invalid credentials provided."}), nil
	}))

	_, err := client.ListWorkers(context.Background(), "web")
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "platform.ListWorkers" {
		t.Fatalf("expected AppError from ListWorkers, got %v", err)
	}
	var statusErr *utils.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized || statusErr.Message != "Invalid credentials provided." {
		t.Fatalf("expected upstream status to be preserved, got %v", err)
	}
}

func TestListWorkersRequiresApp(t *testing.T) {
	client := NewPlatformClient("https://api.example.com", "", "", time.Second)
	if _, err := client.ListWorkers(context.Background(), "web"); err == nil {
		t.Fatalf("expected error without app name")
	}
}

func TestStopWorkerPostsAction(t *testing.T) {
	var gotPath string
	client := NewPlatformClient("https://api.example.com/", "shop", "secret", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		gotPath = req.URL.Path
		return jsonResponse(t, http.StatusAccepted, map[string]any{}), nil
	}))

	if err := client.StopWorker(context.Background(), models.WorkerID("web.3")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/apps/shop/dynos/web.3/actions/stop" {
		t.Fatalf("unexpected stop path: %s", gotPath)
	}
}

func TestTailLogsStreamsSession(t *testing.T) {
	stream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, "2024-05-01T12:00:00Z app[web.1]: GET / 200 512 0.120")
		flusher.Flush()
		fmt.Fprintln(w, "2024-05-01T12:00:01Z app[web.2]: GET / 200 512 0.310")
		flusher.Flush()
	}))
	defer stream.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/shop/log-sessions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["dyno"] != "web" || body["tail"] != true || body["source"] != "app" {
			t.Errorf("unexpected session request: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"logplex_url": stream.URL + "/stream"})
	}))
	defer api.Close()

	client := NewPlatformClient(api.URL, "shop", "secret", time.Second)
	body, err := client.TailLogs(context.Background(), "web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	var lines []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 || !strings.Contains(lines[1], "app[web.2]") {
		t.Fatalf("unexpected streamed lines: %v", lines)
	}
}
