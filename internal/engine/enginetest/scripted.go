// Package enginetest provides a scripted engine implementation for
// exercising the transcription controller without a real model.
package enginetest

import (
	"context"
	"sync"

	"github.com/audioloop/livescribe/internal/engine"
)

// Pass scripts the behavior of one Transcribe invocation
type Pass struct {
	Progress []engine.Progress // replayed through onProgress before returning
	Result   *engine.Result
	Err      error
}

// Call records one observed Transcribe invocation
type Call struct {
	SampleCount int
	Options     engine.Options
	Stopped     bool // onProgress requested an early stop
}

// ScriptedEngine replays queued passes in order. Once the script is
// exhausted it returns empty results, so a controller loop can keep
// polling without failing.
type ScriptedEngine struct {
	mu     sync.Mutex
	passes []Pass
	calls  []Call
}

// NewScripted creates an engine that will play the given passes in order
func NewScripted(passes ...Pass) *ScriptedEngine {
	return &ScriptedEngine{passes: passes}
}

// Transcribe implements engine.Engine
func (s *ScriptedEngine) Transcribe(ctx context.Context, samples []float32, opts engine.Options, onProgress engine.ProgressFunc) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var pass Pass
	if len(s.passes) > 0 {
		pass = s.passes[0]
		s.passes = s.passes[1:]
	} else {
		pass = Pass{Result: &engine.Result{}}
	}
	call := Call{SampleCount: len(samples), Options: opts}
	s.mu.Unlock()

	for _, p := range pass.Progress {
		if onProgress != nil && !onProgress(p) {
			call.Stopped = true
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if pass.Err != nil {
		return nil, pass.Err
	}
	if pass.Result == nil {
		return &engine.Result{}, nil
	}
	return pass.Result, nil
}

// Calls returns a copy of the recorded invocations
func (s *ScriptedEngine) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Transcribe invocations so far
func (s *ScriptedEngine) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
