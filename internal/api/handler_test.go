package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/audioloop/livescribe/internal/audio"
	"github.com/audioloop/livescribe/internal/config"
	"github.com/audioloop/livescribe/internal/engine/enginetest"
	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/transcription"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

// idleCapture is an audio.Capture with no content, enough for session
// lifecycle tests where the loop just idles
type idleCapture struct{}

func (idleCapture) CurrentSamples() []float32   { return nil }
func (idleCapture) RelativeEnergy() []float32   { return nil }
func (idleCapture) SampleCount() int            { return 0 }
func (idleCapture) SampleRate() int             { return 16000 }
func (idleCapture) EnergyRate() float64         { return 10 }
func (idleCapture) Purge(float64)               {}
func (idleCapture) Start(context.Context) error { return nil }
func (idleCapture) Stop()                       {}

func newTestServer(t *testing.T) (*httptest.Server, *transcription.Manager, *sqlite.SegmentStorage) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	segmentStorage, err := sqlite.NewSegmentStorage(db, log)
	if err != nil {
		t.Fatalf("failed to create segment storage: %v", err)
	}

	wsServer := websocket.NewServer(log)
	t.Cleanup(func() { wsServer.Close() })

	settings := transcription.DefaultDecodingSettings()
	settings.PollInterval = 10 * time.Millisecond

	manager := transcription.NewManager(
		settings,
		func() (audio.Capture, error) { return idleCapture{}, nil },
		enginetest.NewScripted(),
		segmentStorage,
		wsServer,
		log,
	)
	t.Cleanup(manager.StopAll)

	router := NewRouter(manager, segmentStorage, wsServer, config.Default(), log)
	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)

	return server, manager, segmentStorage
}

func doRequest(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, body
}

func TestSessionLifecycle(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, server.URL+"/api/v1/sessions")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created map[string]string
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("failed to parse create response: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("expected a session ID")
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/v1/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing sessions, got %d", resp.StatusCode)
	}
	var sessions []map[string]interface{}
	if err := json.Unmarshal(body, &sessions); err != nil {
		t.Fatalf("failed to parse session list: %v", err)
	}
	if len(sessions) != 1 || sessions[0]["id"] != id {
		t.Fatalf("expected one session %q, got %v", id, sessions)
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/v1/sessions/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for session detail, got %d", resp.StatusCode)
	}
	var detail map[string]interface{}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("failed to parse session detail: %v", err)
	}
	if detail["state"] != "active" {
		t.Errorf("expected active state, got %v", detail["state"])
	}

	resp, _ = doRequest(t, http.MethodGet, server.URL+"/api/v1/sessions/"+id+"/telemetry")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for telemetry, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodDelete, server.URL+"/api/v1/sessions/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 stopping session, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodGet, server.URL+"/api/v1/sessions/"+id)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after stop, got %d", resp.StatusCode)
	}
}

func TestStopUnknownSession(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, _ := doRequest(t, http.MethodDelete, server.URL+"/api/v1/sessions/no-such-session")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSegmentQueries(t *testing.T) {
	server, _, storage := newTestServer(t)

	records := []*sqlite.SegmentRecord{
		{SegmentID: "seg-1", SessionID: "sess-a", Text: "hello", StartSeconds: 0, EndSeconds: 2, CreatedAt: time.Now().UTC()},
		{SegmentID: "seg-2", SessionID: "sess-a", Text: "world", StartSeconds: 2, EndSeconds: 4, CreatedAt: time.Now().UTC()},
		{SegmentID: "seg-3", SessionID: "sess-b", Text: "other", StartSeconds: 0, EndSeconds: 1, CreatedAt: time.Now().UTC()},
	}
	for _, record := range records {
		if _, err := storage.StoreSegment(record); err != nil {
			t.Fatalf("failed to seed segment: %v", err)
		}
	}

	resp, body := doRequest(t, http.MethodGet, server.URL+"/api/v1/segments")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var recent []sqlite.SegmentRecord
	if err := json.Unmarshal(body, &recent); err != nil {
		t.Fatalf("failed to parse segments: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 recent segments, got %d", len(recent))
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/v1/segments/session/sess-a")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var bySession []sqlite.SegmentRecord
	if err := json.Unmarshal(body, &bySession); err != nil {
		t.Fatalf("failed to parse segments: %v", err)
	}
	if len(bySession) != 2 || bySession[0].Text != "hello" {
		t.Errorf("unexpected session segments: %v", bySession)
	}

	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/v1/segments/time-range?start="+start+"&end="+end)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, http.MethodGet, server.URL+"/api/v1/segments/time-range?start=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad time range, got %d", resp.StatusCode)
	}
}

func TestHealthAndConfig(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, server.URL+"/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for health, got %d", resp.StatusCode)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("failed to parse health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("expected ok status, got %v", health["status"])
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/v1/config")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for config, got %d", resp.StatusCode)
	}
	var cfg config.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.PostProcessing.OpenAIAPIKey != "" {
		t.Error("expected API key to be stripped from config response")
	}
}
