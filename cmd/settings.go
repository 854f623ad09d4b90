package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ColonelBlimp/morselink/internal/audio"
	"github.com/ColonelBlimp/morselink/internal/config"
	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/ColonelBlimp/morselink/internal/publish"
	"github.com/ColonelBlimp/morselink/internal/receiver"
	"github.com/ColonelBlimp/morselink/internal/serialkey"
	"github.com/ColonelBlimp/morselink/internal/sidetone"
	"github.com/ColonelBlimp/morselink/internal/wavfile"
)

func timingProfile(s *config.Settings) (cw.TimingProfile, error) {
	p, err := cw.NewTimingProfile(s.Unit())
	if err != nil {
		return cw.TimingProfile{}, fmt.Errorf("create timing profile: %w", err)
	}
	return p, nil
}

func decoderConfig(s *config.Settings) cw.DecoderConfig {
	return cw.DecoderConfig{
		DotThreshold:      s.DotThreshold(),
		WordGapMultiplier: s.WordGapMultiplier,
		DurationLogSize:   s.DurationLogSize,
	}
}

// receiverConfig builds the audio pipeline for a tone at frequency sampled
// at rate, which may differ from the configured device rate for files.
func receiverConfig(s *config.Settings, rate, frequency float64) receiver.Config {
	return receiver.Config{
		Goertzel: dsp.GoertzelConfig{
			TargetFrequency: frequency,
			SampleRate:      rate,
			BlockSize:       s.BlockSize,
		},
		Sampler: dsp.SamplerConfig{
			Threshold:       s.IntensityThreshold,
			MinSpread:       s.MinSpread,
			Hysteresis:      s.Hysteresis,
			OverlapPct:      s.OverlapPct,
			AGCEnabled:      s.AGCEnabled,
			AGCDecay:        s.AGCDecay,
			AGCAttack:       s.AGCAttack,
			AGCWarmupBlocks: s.AGCWarmupBlocks,
		},
		Decoder:         decoderConfig(s),
		AutoThreshold:   s.AutoThreshold,
		ThresholdWindow: s.ThresholdWindow(),
	}
}

func lightConfig(s *config.Settings) receiver.LightConfig {
	return receiver.LightConfig{
		Decoder:         decoderConfig(s),
		Threshold:       s.IntensityThreshold,
		MinSpread:       s.MinSpread,
		AutoThreshold:   s.AutoThreshold,
		ThresholdWindow: s.ThresholdWindow(),
	}
}

func audioConfig(s *config.Settings) audio.Config {
	return audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		Channels:    uint32(s.Channels),
		BufferSize:  uint32(s.BlockSize),
	}
}

func renderConfig(s *config.Settings) wavfile.RenderConfig {
	cfg := wavfile.DefaultRenderConfig()
	cfg.SampleRate = int(s.SampleRate)
	if s.ToneFrequency > 0 {
		cfg.Frequency = s.ToneFrequency
	}
	cfg.Volume = s.ToneVolume
	return cfg
}

func sidetoneConfig(s *config.Settings) sidetone.Config {
	cfg := sidetone.DefaultConfig()
	cfg.SampleRate = int(s.SampleRate)
	if s.ToneFrequency > 0 {
		cfg.Frequency = s.ToneFrequency
	}
	cfg.Volume = s.ToneVolume
	return cfg
}

func serialConfig(s *config.Settings) serialkey.Config {
	cfg := serialkey.DefaultConfig(s.SerialPort)
	cfg.Baud = s.SerialBaud
	return cfg
}

func publishConfig(s *config.Settings) publish.Config {
	cfg := publish.DefaultConfig(s.MQTTBroker)
	cfg.Topic = s.MQTTTopic
	cfg.QoS = byte(s.MQTTQoS)
	return cfg
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openActuator returns the configured transmit output and its closer.
func openActuator(s *config.Settings, out io.Writer) (keyer.Actuator, io.Closer, error) {
	switch s.Actuator {
	case "console":
		return keyer.NewConsole(out), nopCloser{}, nil
	case "tone":
		osc, err := sidetone.Open(sidetoneConfig(s))
		if err != nil {
			return nil, nil, fmt.Errorf("open sidetone: %w", err)
		}
		return osc, osc, nil
	case "serial":
		k, err := serialkey.Open(serialConfig(s))
		if err != nil {
			return nil, nil, fmt.Errorf("open serial keyer: %w", err)
		}
		return k, k, nil
	case "none":
		return keyer.ActuatorFunc(func(context.Context, bool) error { return nil }), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown actuator %q", s.Actuator)
	}
}

// newTransmitter opens the actuator and wraps it in a Transmitter.
func newTransmitter(s *config.Settings, out io.Writer, logger *log.Logger) (*keyer.Transmitter, io.Closer, error) {
	p, err := timingProfile(s)
	if err != nil {
		return nil, nil, err
	}
	a, closer, err := openActuator(s, out)
	if err != nil {
		return nil, nil, err
	}
	tx, err := keyer.NewTransmitter(a, keyer.TransmitterConfig{
		Table:   cw.Standard,
		Profile: p,
		Strict:  s.StrictText,
		Logger:  logger,
	})
	if err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("create transmitter: %w", err)
	}
	return tx, closer, nil
}

// openPublisher connects to the configured broker, or returns nil when
// publishing is disabled.
func openPublisher(s *config.Settings, logger *log.Logger) (*publish.Publisher, error) {
	if s.MQTTBroker == "" {
		return nil, nil
	}
	pub, err := publish.Connect(publishConfig(s), logger)
	if err != nil {
		return nil, fmt.Errorf("start publisher: %w", err)
	}
	return pub, nil
}

// attachPublisher forwards decoded output to pub when publishing is enabled.
func attachPublisher(dec *cw.Decoder, pub *publish.Publisher) {
	if pub != nil {
		dec.SetCallback(pub.Handle)
	}
}

// drainDecoder closes the last character and word of a sample stream that
// ended at last.
func drainDecoder(dec *cw.Decoder, last time.Time) {
	gap := time.Duration(dec.WordGapMultiplier()*float64(dec.DotThreshold())) + time.Millisecond
	_ = dec.Feed(cw.Sample{Timestamp: last.Add(time.Millisecond)})
	_ = dec.Feed(cw.Sample{Timestamp: last.Add(time.Millisecond + gap)})
}
