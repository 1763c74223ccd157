package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/audioloop/livescribe/internal/audio"
	"github.com/audioloop/livescribe/pkg/logger"
)

// sendFrameSamples is the number of samples per binary frame sent to
// the engine (1s at 16kHz, 32KB on the wire).
const sendFrameSamples = 16000

// Client talks to a streaming inference server over WebSocket. One
// Transcribe call maps to one connection: request and audio frames go
// out, progress messages stream back until the final result. The
// progress callback runs on the read loop, so an early-stop decision is
// delivered to the server before the next token batch is consumed.
type Client struct {
	url        string
	sampleRate int
	timeout    time.Duration
	dialer     *websocket.Dialer
	logger     *logger.Logger
}

// NewClient creates a client for the engine at the given ws:// URL
func NewClient(url string, sampleRate int, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		url:        url,
		sampleRate: sampleRate,
		timeout:    timeout,
		dialer:     websocket.DefaultDialer,
		logger:     log.Named("engine-client"),
	}
}

// request is the opening message of a transcription exchange
type request struct {
	Type        string  `json:"type"`
	SampleRate  int     `json:"sample_rate"`
	SampleCount int     `json:"sample_count"`
	Options     Options `json:"options"`
}

// serverMessage is the union of messages the engine can send
type serverMessage struct {
	Type     string    `json:"type"` // "progress", "result", "error"
	Progress *Progress `json:"progress,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Timings  *Timings  `json:"timings,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// controlMessage is sent by the client mid-stream
type controlMessage struct {
	Type string `json:"type"` // "end_of_audio", "stop"
}

// Transcribe runs one inference pass over the full sample snapshot
func (c *Client) Transcribe(ctx context.Context, samples []float32, opts Options, onProgress ProgressFunc) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to engine at %s: %v", ErrDecodeFailed, c.url, err)
	}
	defer conn.Close()

	// Unblock the read loop if the caller gives up
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	if opts.ChunkingStrategy == "" {
		opts.ChunkingStrategy = "none"
	}

	req := request{
		Type:        "transcribe",
		SampleRate:  c.sampleRate,
		SampleCount: len(samples),
		Options:     opts,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", ErrDecodeFailed, err)
	}

	if err := c.sendAudio(conn, samples); err != nil {
		return nil, err
	}

	c.logger.Debug("Audio sent, awaiting decode",
		logger.Int("samples", len(samples)),
		logger.Float64("seek_clip", opts.SeekClip))

	return c.readUntilResult(ctx, conn, onProgress)
}

// sendAudio streams the snapshot as binary PCM16 frames followed by an
// end-of-audio marker
func (c *Client) sendAudio(conn *websocket.Conn, samples []float32) error {
	for off := 0; off < len(samples); off += sendFrameSamples {
		end := off + sendFrameSamples
		if end > len(samples) {
			end = len(samples)
		}
		frame := audio.EncodePCM16(samples[off:end])
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("%w: failed to send audio frame: %v", ErrDecodeFailed, err)
		}
	}
	if err := conn.WriteJSON(controlMessage{Type: "end_of_audio"}); err != nil {
		return fmt.Errorf("%w: failed to finish audio stream: %v", ErrDecodeFailed, err)
	}
	return nil
}

// readUntilResult consumes progress messages, consulting the policy
// callback, until the engine delivers a result or error
func (c *Client) readUntilResult(ctx context.Context, conn *websocket.Conn, onProgress ProgressFunc) (*Result, error) {
	stopSent := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: connection lost mid-decode: %v", ErrDecodeFailed, err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: malformed engine message: %v", ErrDecodeFailed, err)
		}

		switch msg.Type {
		case "progress":
			if msg.Progress == nil || onProgress == nil || stopSent {
				continue
			}
			if !onProgress(*msg.Progress) {
				if err := conn.WriteJSON(controlMessage{Type: "stop"}); err != nil {
					return nil, fmt.Errorf("%w: failed to send stop: %v", ErrDecodeFailed, err)
				}
				stopSent = true
				c.logger.Debug("Requested early stop",
					logger.Int("tokens", len(msg.Progress.Tokens)),
					logger.Float64("avg_logprob", msg.Progress.AvgLogProb))
			}

		case "result":
			result := &Result{Segments: msg.Segments}
			if msg.Timings != nil {
				result.Timings = *msg.Timings
			}
			fillSegmentIdentity(result.Segments)
			return result, nil

		case "error":
			return nil, fmt.Errorf("%w: %s", ErrDecodeFailed, msg.Message)

		default:
			c.logger.Warn("Ignoring unknown engine message", logger.String("type", msg.Type))
		}
	}
}

// fillSegmentIdentity assigns IDs and creation times to segments the
// engine returned without them
func fillSegmentIdentity(segments []Segment) {
	now := time.Now().UTC()
	for i := range segments {
		if segments[i].ID == "" {
			segments[i].ID = uuid.NewString()
		}
		if segments[i].CreatedAt.IsZero() {
			segments[i].CreatedAt = now
		}
	}
}
