// Package audio captures microphone or line input for the tone sampler.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrClosed         = errors.New("audio capture closed")
	ErrInvalidDevice  = errors.New("device index out of range")
)

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 48000
	Channels    uint32 // captured channels, downmixed to mono
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns mono capture at 48kHz on the default device.
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		Channels:    1,
		BufferSize:  512,
	}
}

// SampleCallback receives mono samples on the audio thread. It must not block.
type SampleCallback func(samples []float32)

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Index   int
	Name    string
	Default bool
}

// Capture streams audio from a capture device as mono float32 blocks.
type Capture struct {
	config  Config
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
	mu      sync.RWMutex

	callbackPtr atomic.Pointer[SampleCallback]
	closed      atomic.Bool
	closeOnce   sync.Once
	dropped     atomic.Uint64

	// Samples receives each block unless the consumer falls behind, in which
	// case the block is dropped and counted.
	Samples chan []float32
}

// New creates a capture instance; call Init before use.
func New(cfg Config) *Capture {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Capture{
		config:  cfg,
		Samples: make(chan []float32, 64),
	}
}

// SetCallback sets the real-time receiver.
func (c *Capture) SetCallback(cb SampleCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
	} else {
		c.callbackPtr.Store(&cb)
	}
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

func (c *Capture) captureDevices() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Devices lists capture devices in backend order; Index matches device_index.
func (c *Capture) Devices() ([]DeviceInfo, error) {
	infos, err := c.captureDevices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, len(infos))
	for i := range infos {
		out[i] = DeviceInfo{Index: i, Name: infos[i].Name(), Default: infos[i].IsDefault != 0}
	}
	return out, nil
}

// Start begins capture; it stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.RLock()
	switch {
	case c.closed.Load():
		c.mu.RUnlock()
		return ErrClosed
	case c.running:
		c.mu.RUnlock()
		return ErrAlreadyRunning
	case c.ctx == nil:
		c.mu.RUnlock()
		return ErrNotInitialized
	}
	c.mu.RUnlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = c.config.Channels

	if c.config.DeviceIndex >= 0 {
		infos, err := c.captureDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(infos) {
			return fmt.Errorf("%w: %d (have %d devices)", ErrInvalidDevice, c.config.DeviceIndex, len(infos))
		}
		deviceConfig.Capture.DeviceID = infos[c.config.DeviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.deliver(input)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	return nil
}

// deliver converts one device buffer and hands it to the callback and channel.
// It runs on the audio thread and must not take mu: Stop holds it while the
// device drains.
func (c *Capture) deliver(raw []byte) {
	if len(raw) == 0 || c.closed.Load() {
		return
	}
	samples := downmix(bytesToFloat32(raw), int(c.config.Channels))

	if cb := c.callbackPtr.Load(); cb != nil {
		(*cb)(samples)
	}

	if !c.safeSend(samples) {
		c.dropped.Add(1)
	}
}

// safeSend reports whether the block was queued. It never blocks and never
// panics on a closed channel.
func (c *Capture) safeSend(samples []float32) (sent bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case c.Samples <- samples:
		return true
	default:
		return false
	}
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running = false
	return nil
}

// Close releases all audio resources. Calling it more than once is safe.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.running && c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
			c.device = nil
			c.running = false
		}
		if c.ctx != nil {
			if uerr := c.ctx.Uninit(); uerr != nil {
				err = fmt.Errorf("uninit context: %w", uerr)
			}
			c.ctx.Free()
			c.ctx = nil
		}
		close(c.Samples)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Dropped returns how many blocks were discarded because Samples was full.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// bytesToFloat32 decodes little-endian float32 PCM. Trailing partial samples
// are ignored.
func bytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// downmix averages interleaved frames into one channel.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[f*channels+ch]
		}
		mono[f] = sum / float32(channels)
	}
	return mono
}
