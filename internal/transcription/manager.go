package transcription

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/audioloop/livescribe/internal/audio"
	"github.com/audioloop/livescribe/internal/engine"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

// sessionErrorMessage is the broadcast payload for a failed session
func sessionErrorMessage(id string, err error) *websocket.Message {
	return &websocket.Message{
		Type: "session_error",
		Data: map[string]interface{}{
			"session_id": id,
			"error":      err.Error(),
		},
	}
}

// CaptureFactory builds the audio capture collaborator for a new
// session. Called once per session so each gets its own buffer.
type CaptureFactory func() (audio.Capture, error)

// Manager owns the set of live transcription sessions
type Manager struct {
	settings    DecodingSettings
	newCapture  CaptureFactory
	engine      engine.Engine
	store       SegmentStore
	broadcaster Broadcaster
	logger      *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
	wg       sync.WaitGroup
}

// NewManager creates a session manager. store and broadcaster may be
// nil when persistence or live push is disabled.
func NewManager(
	settings DecodingSettings,
	newCapture CaptureFactory,
	eng engine.Engine,
	store SegmentStore,
	broadcaster Broadcaster,
	log *logger.Logger,
) *Manager {
	return &Manager{
		settings:    settings,
		newCapture:  newCapture,
		engine:      eng,
		store:       store,
		broadcaster: broadcaster,
		logger:      log.Named("session-manager"),
		sessions:    make(map[string]*Controller),
	}
}

// StartSession creates and starts a new session, returning its ID
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	capture, err := m.newCapture()
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	controller, err := NewController(id, m.settings, capture, m.engine, m.store, m.broadcaster, m.logger)
	if err != nil {
		return "", err
	}

	if err := controller.Start(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[id] = controller
	m.mu.Unlock()

	// Drain the confirmed-segment channel so a session without a direct
	// consumer never backs up; storage and broadcast sinks already saw
	// every segment by the time it lands here.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for range controller.Segments() {
		}
		if err := controller.Err(); err != nil {
			m.logger.Error("Session ended with error",
				logger.String("session_id", id),
				logger.Error(err))
			if m.broadcaster != nil {
				m.broadcaster.Broadcast(sessionErrorMessage(id, err))
			}
		}
	}()

	m.logger.Info("Session created", logger.String("session_id", id))
	return id, nil
}

// Get returns the controller for a session ID
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	controller, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return controller, nil
}

// StopSession stops a session and removes it from the live set
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	controller, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	controller.Stop()
	return nil
}

// Sessions returns the IDs of all live sessions
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops every live session and waits for their drains to finish
func (m *Manager) StopAll() {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range controllers {
		c.Stop()
	}
	m.wg.Wait()
}
