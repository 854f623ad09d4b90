// Package wavfile reads recordings for the decoder and renders transmissions
// to WAV.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/youpy/go-wav"
)

var (
	// ErrUnsupportedFormat indicates a WAV file that is not plain PCM
	ErrUnsupportedFormat = errors.New("unsupported wav format")
	// ErrInvalidRender indicates render settings that cannot produce audio
	ErrInvalidRender = errors.New("invalid render settings")
)

// Source is what the WAV reader needs from its input; *os.File and
// *bytes.Reader both qualify.
type Source interface {
	io.Reader
	io.ReaderAt
}

// Audio is a decoded recording, downmixed to mono and scaled to -1..1.
type Audio struct {
	SampleRate int
	Samples    []float32
}

// Duration returns the length of the recording.
func (a *Audio) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(a.Samples)) / float64(a.SampleRate) * float64(time.Second))
}

// Load reads a WAV file from disk.
func Load(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes uncompressed PCM from src. A data chunk that ends inside a
// frame is cut to whole frames; one that holds no complete frame is an
// ErrUnsupportedFormat.
func Read(src Source) (*Audio, error) {
	r := wav.NewReader(src)
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, format.AudioFormat)
	}
	scale, offset, err := pcmScale(format.BitsPerSample)
	if err != nil {
		return nil, err
	}
	channels := int(format.NumChannels)
	width := int(format.BitsPerSample) / 8
	if channels < 1 || int(format.BlockAlign) != channels*width {
		return nil, fmt.Errorf("%w: %d channels, block align %d", ErrUnsupportedFormat, format.NumChannels, format.BlockAlign)
	}

	// go-wav's sample reader discards a short final read, so take the
	// chunk bytes whole
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read wav samples: %w", err)
	}
	if size, ok := dataChunkSize(src); ok && int64(len(data)) > int64(size) {
		// drop the RIFF pad byte of an odd-sized chunk
		data = data[:size]
	}

	frameSize := int(format.BlockAlign)
	frames := len(data) / frameSize
	if frames == 0 && len(data) > 0 {
		return nil, fmt.Errorf("%w: %d data bytes, frame size %d", ErrUnsupportedFormat, len(data), frameSize)
	}

	audio := &Audio{SampleRate: int(format.SampleRate), Samples: make([]float32, frames)}
	for i := range frames {
		frame := data[i*frameSize : (i+1)*frameSize]
		var sum float64
		for ch := range channels {
			v := pcmValue(frame[ch*width:(ch+1)*width], width)
			sum += (v - offset) / scale
		}
		audio.Samples[i] = float32(sum / float64(channels))
	}
	return audio, nil
}

// pcmValue decodes one little-endian sample; only 8-bit samples are
// unsigned.
func pcmValue(b []byte, width int) float64 {
	switch width {
	case 1:
		return float64(b[0])
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		return float64(int32(u<<8) >> 8)
	default:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	}
}

// dataChunkSize walks the RIFF chunk headers for the unpadded size of the
// data chunk.
func dataChunkSize(src io.ReaderAt) (uint32, bool) {
	var header [8]byte
	for off := int64(12); ; {
		if _, err := src.ReadAt(header[:], off); err != nil {
			return 0, false
		}
		size := binary.LittleEndian.Uint32(header[4:])
		if string(header[:4]) == "data" {
			return size, true
		}
		off += 8 + int64(size) + int64(size&1)
	}
}

// RenderConfig controls how a timeline is synthesized.
type RenderConfig struct {
	SampleRate int
	Frequency  float64
	Volume     float64
	Ramp       time.Duration
	// Lead and Tail are silence before and after the transmission.
	Lead time.Duration
	Tail time.Duration
}

// DefaultRenderConfig renders a 600Hz tone with 5ms ramps and half a second
// of silence on each side.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		SampleRate: 48000,
		Frequency:  600,
		Volume:     0.5,
		Ramp:       5 * time.Millisecond,
		Lead:       500 * time.Millisecond,
		Tail:       500 * time.Millisecond,
	}
}

const renderChunk = 4096

// Synthesize returns the timeline as mono samples in -1..1, including the
// lead and tail silence.
func Synthesize(tl keyer.Timeline, cfg RenderConfig) ([]float32, error) {
	if cfg.SampleRate <= 0 || cfg.Lead < 0 || cfg.Tail < 0 {
		return nil, ErrInvalidRender
	}
	synth, err := dsp.NewSynth(cfg.Frequency, float64(cfg.SampleRate), cfg.Volume, cfg.Ramp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRender, err)
	}

	rate := float64(cfg.SampleRate)
	out := make([]float32, int((cfg.Lead+tl.Length+cfg.Tail).Seconds()*rate))

	next := 0 // index of the next command to apply
	on := false
	for i := range out {
		at := time.Duration(float64(i)/rate*float64(time.Second)) - cfg.Lead
		for next < len(tl.Commands) && tl.Commands[next].At <= at {
			on = tl.Commands[next].On
			next++
		}
		out[i] = synth.Next(on)
	}
	return out, nil
}

// Render writes the timeline as 16-bit mono PCM.
func Render(w io.Writer, tl keyer.Timeline, cfg RenderConfig) error {
	samples, err := Synthesize(tl, cfg)
	if err != nil {
		return err
	}

	writer := wav.NewWriter(w, uint32(len(samples)), 1, uint32(cfg.SampleRate), 16)
	chunk := make([]wav.Sample, 0, renderChunk)
	for i, x := range samples {
		v := int(math.Round(float64(x) * math.MaxInt16))
		chunk = append(chunk, wav.Sample{Values: [2]int{v, v}})

		if len(chunk) == renderChunk || i == len(samples)-1 {
			if err := writer.WriteSamples(chunk); err != nil {
				return fmt.Errorf("write wav samples: %w", err)
			}
			chunk = chunk[:0]
		}
	}
	return nil
}

// Save renders the timeline to a file.
func Save(path string, tl keyer.Timeline, cfg RenderConfig) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close wav: %w", cerr)
		}
	}()
	return Render(f, tl, cfg)
}
