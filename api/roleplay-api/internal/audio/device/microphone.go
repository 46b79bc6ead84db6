// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
)

var extensionMimeTypes = map[string]string{
	".wav":  internal_audio.MimeTypeWAV,
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg;codecs=opus",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
}

// MimeTypeForFile maps a file name to the audio mime type its extension implies.
func MimeTypeForFile(name string) (string, bool) {
	mime, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

// ScriptedMicrophone stands in for a microphone on a headless host. Each
// GetUserMedia call opens a stream that "hears" the next utterance file of
// the input directory, in lexical order. Once the script is exhausted the
// microphone keeps granting streams that hear silence.
type ScriptedMicrophone struct {
	logger commons.Logger
	dir    string

	mu      sync.Mutex
	loaded  bool
	pending []string
	opened  int
}

func NewScriptedMicrophone(logger commons.Logger, dir string) *ScriptedMicrophone {
	return &ScriptedMicrophone{logger: logger, dir: dir}
}

func (m *ScriptedMicrophone) load() error {
	if m.loaded {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", internal_type.ErrDeviceNotFound, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := MimeTypeForFile(e.Name()); !ok {
			m.logger.Debugf("microphone: skipping %s, unknown audio extension", e.Name())
			continue
		}
		m.pending = append(m.pending, filepath.Join(m.dir, e.Name()))
	}
	sort.Strings(m.pending)
	m.loaded = true
	m.logger.Infof("microphone: scripted %d utterances from %s", len(m.pending), m.dir)
	return nil
}

func (m *ScriptedMicrophone) GetUserMedia(ctx context.Context) (internal_type.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	m.opened++
	stream := &fileStream{id: fmt.Sprintf("scripted-%d", m.opened), track: &fileTrack{}}
	if len(m.pending) == 0 {
		return stream, nil
	}
	path := m.pending[0]
	m.pending = m.pending[1:]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal_type.ErrDeviceNotFound, err)
	}
	stream.data = data
	stream.mime, _ = MimeTypeForFile(path)
	m.logger.Debugf("microphone: stream %s plays %s (%d bytes)", stream.id, filepath.Base(path), len(data))
	return stream, nil
}

// Remaining reports how many scripted utterances are left.
func (m *ScriptedMicrophone) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.load()
	return len(m.pending)
}

type fileTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fileTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fileTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fileStream struct {
	id    string
	data  []byte
	mime  string
	track *fileTrack
}

func (s *fileStream) ID() string                         { return s.id }
func (s *fileStream) Tracks() []internal_type.MediaTrack { return []internal_type.MediaTrack{s.track} }
