// Package session coordinates per-room call lifecycles.
//
// Each room has at most one active call session, driven by out-of-band
// call_start/call_end signals. A session moves idle → recording →
// transcribing → idle; any failure exits back to idle with an error
// event published to the room instead of a crash.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/securex-labs/securex/internal/metrics"
	"github.com/securex-labs/securex/internal/traces"
)

// State of one room's call session.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

// Socket events published to the room.
const (
	EventCallStart       = "call_start"
	EventCallEnd         = "call_end"
	EventTranscript      = "transcript"
	EventTranscriptError = "transcript_error"
)

// maxAudioBytes caps the per-session audio buffer (10MB, matching the
// HTTP request body limit).
const maxAudioBytes = 10 << 20

// Errors
var (
	ErrNotRecording = errors.New("no recording in progress for room")
	ErrBufferFull   = errors.New("audio buffer limit exceeded")
)

// Transcriber converts captured audio to text. Satisfied by transcribe.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Broadcaster fans events out to a room. Satisfied by the realtime hub.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data interface{})
}

// callSession is the per-room state. All fields are guarded by mu;
// sessions for different rooms never share a lock.
type callSession struct {
	mu        sync.Mutex
	state     State
	startedAt time.Time
	mimeType  string
	audio     []byte
}

// Coordinator drives the call state machine for every room.
type Coordinator struct {
	sessions    sync.Map // map[string]*callSession
	transcriber Transcriber
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewCoordinator creates a call session coordinator.
func NewCoordinator(t Transcriber, b Broadcaster, logger *slog.Logger) *Coordinator {
	return &Coordinator{transcriber: t, broadcaster: b, logger: logger}
}

func (c *Coordinator) session(room string) *callSession {
	v, _ := c.sessions.LoadOrStore(room, &callSession{state: StateIdle})
	return v.(*callSession)
}

// State returns the current session state for a room.
func (c *Coordinator) State(room string) State {
	v, ok := c.sessions.Load(room)
	if !ok {
		return StateIdle
	}
	s := v.(*callSession)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start handles a call_start signal. The lifecycle event is broadcast
// to the room either way; the recording transition is only taken from
// idle (a second start while active is a no-op, preventing re-entrant
// double-starts). Returns whether the transition was taken.
func (c *Coordinator) Start(room string, metadata map[string]interface{}) bool {
	s := c.session(room)

	s.mu.Lock()
	started := false
	if s.state == StateIdle {
		s.state = StateRecording
		s.startedAt = time.Now()
		s.audio = nil
		s.mimeType = ""
		started = true
	}
	s.mu.Unlock()

	c.broadcaster.BroadcastToRoom(room, EventCallStart, map[string]interface{}{
		"room":      room,
		"metadata":  metadata,
		"startedAt": time.Now().UnixMilli(),
	})

	if started {
		metrics.CallTransitionsTotal.WithLabelValues("start").Inc()
		c.logger.Info("call started", "room", room)
	} else {
		c.logger.Warn("call_start ignored, session already active", "room", room)
	}
	return started
}

// AppendAudio buffers a captured audio chunk for the room's active
// recording. Rejected when the room is not recording.
func (c *Coordinator) AppendAudio(room string, chunk []byte, mimeType string) error {
	s := c.session(room)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return ErrNotRecording
	}
	if len(s.audio)+len(chunk) > maxAudioBytes {
		return ErrBufferFull
	}
	s.audio = append(s.audio, chunk...)
	if mimeType != "" {
		s.mimeType = mimeType
	}
	return nil
}

// End handles a call_end signal. Only a recording session transitions
// to transcribing; a signal with no prior start, or one arriving while
// a transcription is already in flight, is a no-op (at most one
// in-flight transcription per room). Returns whether the transition
// was taken.
func (c *Coordinator) End(room string, metadata map[string]interface{}) bool {
	s := c.session(room)

	s.mu.Lock()
	var audio []byte
	var mimeType string
	ended := false
	if s.state == StateRecording {
		s.state = StateTranscribing
		audio = s.audio
		mimeType = s.mimeType
		s.audio = nil
		ended = true
	}
	s.mu.Unlock()

	c.broadcaster.BroadcastToRoom(room, EventCallEnd, map[string]interface{}{
		"room":     room,
		"metadata": metadata,
		"endedAt":  time.Now().UnixMilli(),
	})

	if !ended {
		c.logger.Warn("call_end ignored, no active recording", "room", room)
		return false
	}

	metrics.CallTransitionsTotal.WithLabelValues("end").Inc()
	go c.transcribeAndPublish(room, audio, mimeType)
	return true
}

// transcribeAndPublish runs the external transcription and delivers
// the result to the room. The session always returns to idle, whether
// the upstream call succeeds or not.
func (c *Coordinator) transcribeAndPublish(room string, audio []byte, mimeType string) {
	ctx, span := traces.StartSpan(context.Background(), "call.transcribe", traces.Room(room))
	defer span.End()

	var text string
	var err error

	if len(audio) == 0 {
		err = errors.New("no audio captured for session")
	} else {
		text, err = c.transcriber.Transcribe(ctx, audio, mimeType)
	}

	s := c.session(room)
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
		metrics.CallTransitionsTotal.WithLabelValues("error").Inc()
		c.logger.Error("transcription failed", "room", room, "error", err)
		c.broadcaster.BroadcastToRoom(room, EventTranscriptError, map[string]interface{}{
			"room":  room,
			"error": err.Error(),
		})
		return
	}

	metrics.TranscriptionsTotal.WithLabelValues("success").Inc()
	metrics.CallTransitionsTotal.WithLabelValues("complete").Inc()
	c.logger.Info("transcript delivered", "room", room, "chars", len(text))
	c.broadcaster.BroadcastToRoom(room, EventTranscript, map[string]interface{}{
		"room": room,
		"text": text,
	})
}
