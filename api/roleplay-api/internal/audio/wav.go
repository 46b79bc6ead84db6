// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
	wavHeaderSize       = 44

	MimeTypeWAV = "audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav payload")

// WAVFormat describes a LINEAR16 PCM stream.
type WAVFormat struct {
	SampleRate uint32
	Channels   uint16
}

// DefaultWAVFormat is 16kHz mono, the format every headless device speaks.
var DefaultWAVFormat = WAVFormat{SampleRate: 16000, Channels: 1}

func (f WAVFormat) BytesPerSecond() int {
	return int(f.SampleRate) * int(f.Channels) * AudioBytesPerSample
}

// Duration of pcm bytes at this format.
func (f WAVFormat) Duration(pcmBytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(pcmBytes) / float64(bps) * float64(time.Second))
}

// EncodeWAV wraps raw LINEAR16 PCM into a canonical 44 byte header WAV file.
func EncodeWAV(pcmData []byte, format WAVFormat) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcmData))

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, format.Channels)
	binary.Write(&buf, binary.LittleEndian, format.SampleRate)
	binary.Write(&buf, binary.LittleEndian, uint32(format.BytesPerSecond()))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample)*format.Channels)
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// DecodeWAV returns the format and PCM body of a canonical WAV file.
func DecodeWAV(data []byte) (WAVFormat, []byte, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVFormat{}, nil, ErrInvalidWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != AudioPCMFormat {
		return WAVFormat{}, nil, fmt.Errorf("%w: unsupported encoding", ErrInvalidWAV)
	}
	format := WAVFormat{
		Channels:   binary.LittleEndian.Uint16(data[22:24]),
		SampleRate: binary.LittleEndian.Uint32(data[24:28]),
	}
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	body := data[wavHeaderSize:]
	if size < len(body) {
		body = body[:size]
	}
	return format, body, nil
}

// SilentClip is the near-silent sample played to lift autoplay restrictions.
func SilentClip() []byte {
	pcm := make([]byte, DefaultWAVFormat.BytesPerSecond()/10) // 100ms
	for i := 0; i+1 < len(pcm); i += 2 {
		// ±1 LSB dither, inaudible but not digital zero
		if (i/2)%2 == 0 {
			binary.LittleEndian.PutUint16(pcm[i:], 1)
		} else {
			binary.LittleEndian.PutUint16(pcm[i:], 0xFFFF)
		}
	}
	return EncodeWAV(pcm, DefaultWAVFormat)
}
