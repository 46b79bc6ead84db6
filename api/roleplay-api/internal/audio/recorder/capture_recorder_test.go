// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"context"
	"testing"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	"github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/audiotest"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var preferences = []string{"audio/webm;codecs=opus", "audio/webm", "audio/mp4"}

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-recorder"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
		commons.Console(false),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type fixture struct {
	devices   *audiotest.Devices
	runtime   *audiotest.RecorderRuntime
	resources *internal_audio.ResourceManager
	logger    commons.Logger
}

func newFixture(t *testing.T, supported ...string) *fixture {
	t.Helper()
	logger := newTestLogger(t)
	devices := &audiotest.Devices{}
	rt := &audiotest.RecorderRuntime{Supported: map[string]bool{}, DefaultMime: "audio/mp4"}
	for _, s := range supported {
		rt.Supported[s] = true
	}
	return &fixture{
		devices:   devices,
		runtime:   rt,
		resources: internal_audio.NewResourceManager(logger, devices, &audiotest.Runtime{}),
		logger:    logger,
	}
}

func (f *fixture) recorder() *CaptureRecorder {
	return NewCaptureRecorder(f.logger, f.resources, f.runtime, preferences)
}

func TestSelectMimeType(t *testing.T) {
	f := newFixture(t, "audio/webm", "audio/mp4")
	assert.Equal(t, "audio/webm", SelectMimeType(f.runtime, preferences))

	none := newFixture(t)
	assert.Equal(t, "", SelectMimeType(none.runtime, preferences))
}

func TestRecordAndStop_AssemblesChunksInOrder(t *testing.T) {
	f := newFixture(t, "audio/webm;codecs=opus")
	f.runtime.SetChunks([]byte("ab"), []byte("cd"), []byte("ef"))
	rec := f.recorder()

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, StateRecording, rec.State())
	assert.True(t, f.resources.MicrophoneHeld())

	capture, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFinished, rec.State())
	assert.False(t, capture.Empty())
	assert.Equal(t, []byte("abcdef"), capture.Audio.Data)
	assert.Equal(t, 3, capture.Chunks)
	assert.Equal(t, "audio/webm;codecs=opus", capture.Audio.MimeType)
	assert.False(t, f.resources.MicrophoneHeld())
}

func TestStart_FallsBackToRuntimeDefault(t *testing.T) {
	f := newFixture(t)
	f.runtime.SetChunks([]byte{1, 2, 3})
	rec := f.recorder()

	require.NoError(t, rec.Start(context.Background()))
	capture, err := rec.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{""}, f.runtime.Requested())
	assert.Equal(t, "", capture.RequestedMimeType)
	assert.Equal(t, "audio/mp4", capture.Audio.MimeType, "tagged with the negotiated encoding")
}

func TestStop_NoChunksIsEmpty(t *testing.T) {
	f := newFixture(t, "audio/webm")
	rec := f.recorder()

	require.NoError(t, rec.Start(context.Background()))
	capture, err := rec.Stop(context.Background())

	require.NoError(t, err)
	assert.True(t, capture.Empty())
	assert.Equal(t, StateEmpty, rec.State())
	assert.False(t, f.resources.MicrophoneHeld())
}

func TestStart_MicrophoneUnavailable(t *testing.T) {
	f := newFixture(t, "audio/webm")
	f.devices.SetErr(internal_type.ErrDevicePermissionDenied)
	rec := f.recorder()

	err := rec.Start(context.Background())
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
	assert.ErrorIs(t, err, internal_audio.ErrPermissionDenied)
	assert.Equal(t, StateFailed, rec.State())
	assert.False(t, f.resources.MicrophoneHeld())
}

func TestStart_SecondRecorderWhileRecording(t *testing.T) {
	f := newFixture(t, "audio/webm")
	first := f.recorder()
	require.NoError(t, first.Start(context.Background()))

	second := f.recorder()
	err := second.Start(context.Background())
	assert.ErrorIs(t, err, internal_audio.ErrMicrophoneBusy)

	first.Abort()
	assert.False(t, f.resources.MicrophoneHeld())
}

func TestAbort_DiscardsAudio(t *testing.T) {
	f := newFixture(t, "audio/webm")
	f.runtime.SetChunks([]byte("speech"))
	rec := f.recorder()
	require.NoError(t, rec.Start(context.Background()))

	rec.Abort()

	assert.Equal(t, StateEmpty, rec.State())
	assert.False(t, f.resources.MicrophoneHeld())
	assert.True(t, f.runtime.Recorders()[0].Stopped())

	_, err := rec.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStart_IsSingleUse(t *testing.T) {
	f := newFixture(t, "audio/webm")
	rec := f.recorder()
	require.NoError(t, rec.Start(context.Background()))
	_, err := rec.Stop(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, rec.Start(context.Background()), ErrAlreadyStarted)
}
