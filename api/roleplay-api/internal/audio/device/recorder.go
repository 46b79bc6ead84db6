// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_device

import (
	"errors"
	"strings"
	"sync"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
)

const defaultChunkSize = 4096

var errForeignStream = errors.New("recorder: stream was not opened by the scripted microphone")

// StreamRecorderRuntime records scripted microphone streams. The encoding
// of a stream is fixed by its source file, so whatever was requested, the
// recorder reports the file's own mime type, like a browser substituting a
// codec it prefers.
type StreamRecorderRuntime struct {
	supported map[string]bool
	chunkSize int
}

func NewStreamRecorderRuntime() *StreamRecorderRuntime {
	supported := map[string]bool{}
	for _, mime := range extensionMimeTypes {
		supported[mime] = true
	}
	return &StreamRecorderRuntime{supported: supported, chunkSize: defaultChunkSize}
}

func (rt *StreamRecorderRuntime) IsTypeSupported(mimeType string) bool {
	return rt.supported[strings.ToLower(strings.ReplaceAll(mimeType, " ", ""))]
}

func (rt *StreamRecorderRuntime) NewRecorder(stream internal_type.MediaStream, mimeType string) (internal_type.MediaRecorder, error) {
	fs, ok := stream.(*fileStream)
	if !ok {
		return nil, errForeignStream
	}
	mime := fs.mime
	if mime == "" {
		mime = mimeType
	}
	if mime == "" {
		mime = internal_audio.MimeTypeWAV
	}
	return &streamRecorder{stream: fs, mime: mime, chunkSize: rt.chunkSize}, nil
}

type streamRecorder struct {
	stream    *fileStream
	mime      string
	chunkSize int

	mu      sync.Mutex
	onData  func([]byte)
	onStop  func()
	started bool
}

func (r *streamRecorder) MimeType() string { return r.mime }

func (r *streamRecorder) SetHandlers(onData func([]byte), onStop func()) {
	r.mu.Lock()
	r.onData, r.onStop = onData, onStop
	r.mu.Unlock()
}

func (r *streamRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("recorder: already started")
	}
	r.started = true
	return nil
}

// Stop emits the stream in fixed-size chunks and then signals the flush.
func (r *streamRecorder) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("recorder: not started")
	}
	r.started = false
	onData, onStop := r.onData, r.onStop
	r.mu.Unlock()

	data := r.stream.data
	if r.stream.track.Stopped() {
		data = nil
	}
	for len(data) > 0 && onData != nil {
		n := r.chunkSize
		if n > len(data) {
			n = len(data)
		}
		onData(data[:n])
		data = data[n:]
	}
	if onStop != nil {
		onStop()
	}
	return nil
}
