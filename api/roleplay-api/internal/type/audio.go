// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"context"
	"errors"
	"time"
)

// Errors a device adapter returns so the engine can classify failures.
var (
	ErrDevicePermissionDenied = errors.New("device: permission denied")
	ErrDeviceNotFound         = errors.New("device: no input device")
	ErrSourceAlreadyConnected = errors.New("audio: element already connected to a source node")
	ErrPlaybackRejected       = errors.New("audio: play() rejected")
)

// Blob is an encoded audio payload tagged with its mime type.
type Blob struct {
	Data     []byte
	MimeType string
}

func (b Blob) Size() int { return len(b.Data) }

// =============================================================================
// Microphone
// =============================================================================

// MediaTrack is one live capture track of a stream.
type MediaTrack interface {
	Stop()
}

// MediaStream is a live microphone stream.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// MediaDevices grants access to the microphone.
type MediaDevices interface {
	// GetUserMedia opens an audio-only stream. It returns
	// ErrDevicePermissionDenied or ErrDeviceNotFound when appropriate.
	GetUserMedia(ctx context.Context) (MediaStream, error)
}

// =============================================================================
// Recording
// =============================================================================

// MediaRecorder encodes a stream into chunks. Handlers must be installed
// before Start; implementations may invoke them synchronously from Stop.
type MediaRecorder interface {
	// MimeType is the encoding the runtime actually negotiated.
	MimeType() string
	SetHandlers(onData func(chunk []byte), onStop func())
	Start() error
	Stop() error
}

type RecorderRuntime interface {
	IsTypeSupported(mimeType string) bool
	// NewRecorder creates a recorder for stream; an empty mimeType selects the runtime default.
	NewRecorder(stream MediaStream, mimeType string) (MediaRecorder, error)
}

// =============================================================================
// Playback and analysis graph
// =============================================================================

type AudioContextState string

const (
	AudioContextRunning   AudioContextState = "running"
	AudioContextSuspended AudioContextState = "suspended"
	AudioContextClosed    AudioContextState = "closed"
)

// PlaybackElement is the single reusable output element of a session.
type PlaybackElement interface {
	Load(audio Blob) error
	// Play starts playback of the loaded audio; completion is reported
	// through the handlers, not the return value.
	Play(ctx context.Context) error
	Pause()
	Rewind()
	SetVolume(volume float64)
	Volume() float64
	SetHandlers(onEnded func(), onError func(error))
}

// Analyser exposes the frequency-domain view of the connected signal.
type Analyser interface {
	FrequencyBinCount() int
	// ByteFrequencyData fills dst with magnitudes in [0,255].
	ByteFrequencyData(dst []byte)
}

// SourceNode connects one element to the graph; it can exist once per element.
type SourceNode interface {
	Connect(analyser Analyser) error
	Disconnect()
}

type AudioContext interface {
	State() AudioContextState
	Resume(ctx context.Context) error
	Close() error
	CreateAnalyser() (Analyser, error)
	CreateMediaElementSource(el PlaybackElement) (SourceNode, error)
}

// AudioRuntime creates the platform audio objects.
type AudioRuntime interface {
	NewAudioContext() (AudioContext, error)
	NewPlaybackElement() (PlaybackElement, error)
}

// =============================================================================
// Display refresh
// =============================================================================

type FrameID uint64

// FrameScheduler mirrors requestAnimationFrame / cancelAnimationFrame.
type FrameScheduler interface {
	RequestFrame(fn func(at time.Time)) FrameID
	CancelFrame(id FrameID)
}
