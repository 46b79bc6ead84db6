// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_test

import (
	"context"
	"errors"
	"testing"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	"github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/audiotest"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-audio"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
		commons.Console(false),
	)
	require.NoError(t, err)
	return logger
}

func newManager(t *testing.T) (*internal_audio.ResourceManager, *audiotest.Devices, *audiotest.Runtime) {
	devices := &audiotest.Devices{}
	runtime := &audiotest.Runtime{}
	return internal_audio.NewResourceManager(newTestLogger(t), devices, runtime), devices, runtime
}

func TestUnlockPlayback_IsIdempotent(t *testing.T) {
	m, _, runtime := newManager(t)
	ctx := context.Background()

	m.UnlockPlayback(ctx)
	m.UnlockPlayback(ctx)

	require.Len(t, runtime.Contexts(), 1)
	require.Len(t, runtime.Elements(), 1)
	assert.Equal(t, 1, runtime.Contexts()[0].Resumes(), "context resumed once, already running afterwards")

	el := runtime.Elements()[0]
	assert.Equal(t, 2, el.PlayCalls())
	assert.Equal(t, 1.0, el.Volume())
	for _, clip := range el.Loads() {
		assert.Equal(t, internal_audio.MimeTypeWAV, clip.MimeType)
	}
}

func TestUnlockPlayback_RejectedPlayIsIgnored(t *testing.T) {
	m, _, runtime := newManager(t)
	runtime.PlayErrs = []error{internal_type.ErrPlaybackRejected}

	m.UnlockPlayback(context.Background())

	el := runtime.Elements()[0]
	assert.Equal(t, 1, el.PlayCalls())
	assert.Equal(t, 1.0, el.Volume())
}

func TestPlaybackElement_ReusedAfterUnlock(t *testing.T) {
	m, _, runtime := newManager(t)
	m.UnlockPlayback(context.Background())

	el, err := m.PlaybackElement()
	require.NoError(t, err)
	assert.Same(t, runtime.Elements()[0], el)
}

func TestAttachVisualizer_SameElementTwice(t *testing.T) {
	m, _, runtime := newManager(t)
	el, err := m.PlaybackElement()
	require.NoError(t, err)

	first, err := m.AttachVisualizer(el)
	require.NoError(t, err)
	second, err := m.AttachVisualizer(el)
	require.NoError(t, err)

	assert.Same(t, first, second)
	require.Len(t, runtime.Contexts(), 1)
	assert.Equal(t, 1, runtime.Contexts()[0].Sources())
	assert.Len(t, runtime.Contexts()[0].Analysers(), 1)
}

func TestAttachVisualizer_NewElementGetsNewSource(t *testing.T) {
	m, _, runtime := newManager(t)
	a, _ := runtime.NewPlaybackElement()
	b, _ := runtime.NewPlaybackElement()

	_, err := m.AttachVisualizer(a)
	require.NoError(t, err)
	_, err = m.AttachVisualizer(b)
	require.NoError(t, err)

	assert.Equal(t, 2, runtime.Contexts()[0].Sources())
}

func TestAcquireMicrophone_Exclusive(t *testing.T) {
	m, devices, _ := newManager(t)
	ctx := context.Background()

	h, err := m.AcquireMicrophone(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.True(t, m.MicrophoneHeld())

	_, err = m.AcquireMicrophone(ctx)
	assert.ErrorIs(t, err, internal_audio.ErrMicrophoneBusy)

	require.NoError(t, m.ReleaseMicrophone(h))
	assert.False(t, m.MicrophoneHeld())
	assert.Equal(t, 1, devices.Streams()[0].Track.Stopped())

	again, err := m.AcquireMicrophone(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, h.ID(), again.ID())
}

func TestReleaseMicrophone_Twice(t *testing.T) {
	m, devices, _ := newManager(t)
	h, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.ReleaseMicrophone(h))
	assert.ErrorIs(t, m.ReleaseMicrophone(h), internal_audio.ErrHandleReleased)
	assert.Equal(t, 1, devices.Streams()[0].Track.Stopped())
}

func TestAcquireMicrophone_ClassifiesErrors(t *testing.T) {
	m, devices, _ := newManager(t)

	devices.SetErr(internal_type.ErrDevicePermissionDenied)
	_, err := m.AcquireMicrophone(context.Background())
	assert.ErrorIs(t, err, internal_audio.ErrPermissionDenied)
	assert.False(t, m.MicrophoneHeld())

	devices.SetErr(internal_type.ErrDeviceNotFound)
	_, err = m.AcquireMicrophone(context.Background())
	assert.ErrorIs(t, err, internal_audio.ErrDeviceUnavailable)

	devices.SetErr(nil)
	_, err = m.AcquireMicrophone(context.Background())
	assert.NoError(t, err)
}

func TestAcquireMicrophone_CancelledContext(t *testing.T) {
	m, devices, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.AcquireMicrophone(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.MicrophoneHeld())
	assert.Equal(t, 1, devices.Streams()[0].Track.Stopped())
}

func TestWithMicrophone_ReleasesOnEveryExit(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	err := m.WithMicrophone(ctx, func(ctx context.Context, stream internal_type.MediaStream) error {
		assert.NotNil(t, stream)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, m.MicrophoneHeld())

	boom := errors.New("boom")
	err = m.WithMicrophone(ctx, func(context.Context, internal_type.MediaStream) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.MicrophoneHeld())

	assert.Panics(t, func() {
		_ = m.WithMicrophone(ctx, func(context.Context, internal_type.MediaStream) error { panic("device gone") })
	})
	assert.False(t, m.MicrophoneHeld())
}

func TestReset_ReleasesEverything(t *testing.T) {
	m, devices, runtime := newManager(t)
	ctx := context.Background()
	m.UnlockPlayback(ctx)
	_, err := m.AcquireMicrophone(ctx)
	require.NoError(t, err)

	m.Reset()

	assert.False(t, m.MicrophoneHeld())
	assert.Equal(t, 1, devices.Streams()[0].Track.Stopped())
	assert.Equal(t, internal_type.AudioContextClosed, runtime.Contexts()[0].State())
	assert.Equal(t, 1, runtime.Elements()[0].Paused())

	m.UnlockPlayback(ctx)
	assert.Len(t, runtime.Contexts(), 2)
	assert.Len(t, runtime.Elements(), 2)
}
