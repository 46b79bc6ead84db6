// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
)

// DefaultExtension is used when the encoding tag is not recognised.
const DefaultExtension = "webm"

var (
	ErrNoSpeechDetected    = errors.New("no speech detected")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// TranscriptionError carries the collaborator's message when it sent one.
type TranscriptionError struct {
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Message == "" {
		return ErrTranscriptionFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTranscriptionFailed, e.Message)
}

func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscriptionFailed }
func (e *TranscriptionError) Unwrap() error        { return e.Err }

// Transcriber is the slice of the collaborator client the bridge needs.
type Transcriber interface {
	Transcribe(ctx context.Context, fileName, contentType string, audio []byte) (string, error)
}

// Bridge submits captured audio to the transcription collaborator.
type Bridge struct {
	logger commons.Logger
	client Transcriber
}

func NewBridge(logger commons.Logger, client Transcriber) *Bridge {
	return &Bridge{logger: logger, client: client}
}

// ExtensionFor maps an encoding tag such as "audio/webm;codecs=opus" to the
// file extension the transcription service expects.
func ExtensionFor(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	base = strings.TrimSpace(base)
	switch base {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/mp4", "video/mp4":
		return "mp4"
	case "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/aac":
		return "aac"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return "wav"
	case "audio/flac", "audio/x-flac":
		return "flac"
	}
	return DefaultExtension
}

// FileName is the multipart file name used for a capture of mimeType.
func FileName(mimeType string) string {
	return "recording." + ExtensionFor(mimeType)
}

// Transcribe returns the trimmed recognised text of audio. Whitespace-only
// results are reported as ErrNoSpeechDetected; any other failure matches
// ErrTranscriptionFailed. A cancelled ctx is returned as is.
func (b *Bridge) Transcribe(ctx context.Context, audio internal_type.Blob) (string, error) {
	if audio.Size() == 0 {
		return "", ErrNoSpeechDetected
	}
	name := FileName(audio.MimeType)
	contentType := audio.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	text, err := b.client.Transcribe(ctx, name, contentType, audio.Data)
	if ctxErr := ctx.Err(); ctxErr != nil {
		b.logger.Debugf("transcription: abandoned %s after %s", name, time.Since(start))
		return "", ctxErr
	}
	if err != nil {
		b.logger.Errorf("transcription: %s (%d bytes) failed: %v", name, audio.Size(), err)
		var collaboratorErr *roleplay_client.CollaboratorError
		if errors.As(err, &collaboratorErr) {
			return "", &TranscriptionError{Message: collaboratorErr.Message, Err: err}
		}
		return "", &TranscriptionError{Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		b.logger.Infof("transcription: no speech in %s (%d bytes)", name, audio.Size())
		return "", ErrNoSpeechDetected
	}
	b.logger.Debugf("transcription: %s -> %d chars in %s", name, len(text), time.Since(start))
	return text, nil
}
