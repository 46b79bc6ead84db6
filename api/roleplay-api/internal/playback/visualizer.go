// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import (
	"sync"
	"time"

	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/rapidaai/roleplay/pkg/utils"
)

// amplitudeGain lifts speech, which rarely reaches full scale, into the
// display range.
const amplitudeGain = 1.6

// Amplitude reduces one frequency frame to a display level in [0,1]: the
// mean of the mid-frequency slice [n/8, n/2), scaled by 1/255 and the gain.
func Amplitude(bins []byte) float64 {
	lo, hi := len(bins)/8, len(bins)/2
	if hi <= lo {
		return 0
	}
	slice := make([]float32, 0, hi-lo)
	for _, b := range bins[lo:hi] {
		slice = append(slice, float32(b))
	}
	level := float64(utils.AverageFloat32(slice)) / 255 * amplitudeGain
	return utils.ClampFloat64(level, 0, 1)
}

// Visualizer samples an analyser once per display frame and publishes the
// amplitude. A stopped visualizer holds no frame callback.
type Visualizer struct {
	logger    commons.Logger
	scheduler internal_type.FrameScheduler
	publish   func(level float64)

	mu         sync.Mutex
	analyser   internal_type.Analyser
	buf        []byte
	frame      internal_type.FrameID
	running    bool
	generation uint64
	level      float64
}

func NewVisualizer(logger commons.Logger, scheduler internal_type.FrameScheduler, publish func(level float64)) *Visualizer {
	if publish == nil {
		publish = func(float64) {}
	}
	return &Visualizer{logger: logger, scheduler: scheduler, publish: publish}
}

// Start begins sampling analyser, replacing any running loop.
func (v *Visualizer) Start(analyser internal_type.Analyser) {
	if analyser == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
	v.analyser = analyser
	v.buf = make([]byte, analyser.FrequencyBinCount())
	v.running = true
	v.generation++
	v.scheduleLocked(v.generation)
}

func (v *Visualizer) scheduleLocked(gen uint64) {
	v.frame = v.scheduler.RequestFrame(func(time.Time) { v.tick(gen) })
}

func (v *Visualizer) tick(gen uint64) {
	v.mu.Lock()
	if !v.running || gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.analyser.ByteFrequencyData(v.buf)
	v.level = Amplitude(v.buf)
	level := v.level
	v.scheduleLocked(gen)
	v.mu.Unlock()
	v.publish(level)
}

// Stop cancels the pending frame and publishes a resting level of 0.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	wasRunning := v.running
	v.cancelLocked()
	v.mu.Unlock()
	if wasRunning {
		v.publish(0)
	}
}

func (v *Visualizer) cancelLocked() {
	if v.running {
		v.scheduler.CancelFrame(v.frame)
	}
	v.running = false
	v.analyser = nil
	v.level = 0
	v.generation++
}

func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Level is the most recently published amplitude.
func (v *Visualizer) Level() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.level
}
