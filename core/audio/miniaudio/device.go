// Package miniaudio is a local speaker and microphone device for running a
// conversation against the machine's own audio hardware.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/voicewire/voicewire-core/core/audio"
)

// Device is a local playback sink with optional microphone capture. Playback
// buffers whole chunks; real-time pacing is the caller's concern.
type Device struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing.
	audioContext *malgo.AllocatedContext
	playback     playbackClient
	capture      captureClient

	encoding audio.EncodingInfo
}

// NewDevice initializes the machine's default playback and capture devices.
func NewDevice() (*Device, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	device := &Device{
		audioContext: audioCtx,
		encoding:     audio.GetDefaultEncodingInfo(),
	}

	if err := device.playback.Init(audioCtx, device.encoding); err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to initialize playback: %w", err)
	}
	if err := device.playback.Start(); err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}
	if err := device.capture.Init(audioCtx, device.encoding); err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}

	return device, nil
}

// EncodingInfo returns the device's audio encoding.
func (d *Device) EncodingInfo() audio.EncodingInfo {
	return d.encoding
}

// Play buffers one chunk's audio for the speaker and returns immediately.
func (d *Device) Play(_ context.Context, chunk *audio.Chunk) error {
	return d.playback.Enqueue(chunk.Data)
}

// Interrupt is a pure signal; buffered audio is flushed through Clear.
func (d *Device) Interrupt() {}

// Clear drops any audio buffered but not yet played.
func (d *Device) Clear() error {
	d.playback.Clear()
	return nil
}

// StartCapture begins forwarding microphone audio to onAudio.
func (d *Device) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return d.capture.Start(onAudio)
}

// StopCapture stops forwarding microphone audio.
func (d *Device) StopCapture() error {
	return d.capture.Stop()
}

// Close releases the underlying audio devices.
func (d *Device) Close() {
	_ = d.capture.Uninit()
	_ = d.playback.Uninit()
	if d.audioContext != nil {
		_ = d.audioContext.Uninit()
		d.audioContext.Free()
		d.audioContext = nil
	}
}
