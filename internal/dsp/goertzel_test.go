// internal/dsp/goertzel_test.go
package dsp

import (
	"math"
	"testing"
)

// Test configuration constants - these mirror config file defaults
const (
	testSampleRate    = 48000.0
	testToneFrequency = 600.0
	testBlockSize     = 512
	testNyquistFreq   = testSampleRate / 2.0
)

// generateSineWave creates a sine wave at the specified frequency
func generateSineWave(frequency, sampleRate float64, numSamples int, amplitude float32) []float32 {
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / sampleRate
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

// generateSilence creates a buffer of silence (zeros)
func generateSilence(numSamples int) []float32 {
	return make([]float32, numSamples)
}

func createTestGoertzel(t *testing.T) *Goertzel {
	t.Helper()
	g, err := NewGoertzel(GoertzelConfig{
		TargetFrequency: testToneFrequency,
		SampleRate:      testSampleRate,
		BlockSize:       testBlockSize,
	})
	if err != nil {
		t.Fatalf("NewGoertzel() error = %v", err)
	}
	return g
}

func TestNewGoertzel_Validation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  GoertzelConfig
		want error
	}{
		{"zero block size", GoertzelConfig{testToneFrequency, testSampleRate, 0}, ErrInvalidBlockSize},
		{"negative block size", GoertzelConfig{testToneFrequency, testSampleRate, -1}, ErrInvalidBlockSize},
		{"zero sample rate", GoertzelConfig{testToneFrequency, 0, testBlockSize}, ErrInvalidSampleRate},
		{"zero frequency", GoertzelConfig{0, testSampleRate, testBlockSize}, ErrInvalidFrequency},
		{"at nyquist", GoertzelConfig{testNyquistFreq, testSampleRate, testBlockSize}, ErrInvalidFrequency},
		{"above nyquist", GoertzelConfig{testNyquistFreq + 1000, testSampleRate, testBlockSize}, ErrInvalidFrequency},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGoertzel(tc.cfg); err != tc.want {
				t.Errorf("NewGoertzel() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGoertzel_Coefficient(t *testing.T) {
	g := createTestGoertzel(t)
	want := 2 * math.Cos(2*math.Pi*testToneFrequency/testSampleRate)
	if math.Abs(g.coefficient-want) > 1e-12 {
		t.Errorf("coefficient = %v, want %v", g.coefficient, want)
	}
}

func TestGoertzel_Magnitude_ToneVersusSilence(t *testing.T) {
	g := createTestGoertzel(t)

	tone, err := g.Magnitude(generateSineWave(testToneFrequency, testSampleRate, testBlockSize, 1.0))
	if err != nil {
		t.Fatalf("Magnitude() error = %v", err)
	}
	if tone < 0.7 || tone > 1.1 {
		t.Errorf("full-scale tone magnitude = %v, want about 1.0", tone)
	}

	silence, _ := g.Magnitude(generateSilence(testBlockSize))
	if silence != 0 {
		t.Errorf("silence magnitude = %v, want 0", silence)
	}
}

func TestGoertzel_Magnitude_Selectivity(t *testing.T) {
	g := createTestGoertzel(t)
	on, _ := g.Magnitude(generateSineWave(testToneFrequency, testSampleRate, testBlockSize, 1.0))
	off, _ := g.Magnitude(generateSineWave(testToneFrequency+500, testSampleRate, testBlockSize, 1.0))

	if off >= on/4 {
		t.Errorf("off-frequency magnitude %v should be well below on-frequency %v", off, on)
	}
}

func TestGoertzel_Magnitude_ScalesWithAmplitude(t *testing.T) {
	g := createTestGoertzel(t)
	full, _ := g.Magnitude(generateSineWave(testToneFrequency, testSampleRate, testBlockSize, 1.0))
	half, _ := g.Magnitude(generateSineWave(testToneFrequency, testSampleRate, testBlockSize, 0.5))

	if ratio := half / full; math.Abs(ratio-0.5) > 0.01 {
		t.Errorf("half/full ratio = %v, want 0.5", ratio)
	}
}

func TestGoertzel_Magnitude_InsufficientSamples(t *testing.T) {
	g := createTestGoertzel(t)
	if _, err := g.Magnitude(make([]float32, testBlockSize-1)); err != ErrInsufficientSamples {
		t.Errorf("Magnitude() error = %v, want %v", err, ErrInsufficientSamples)
	}
}

func TestGoertzel_Retune(t *testing.T) {
	g := createTestGoertzel(t)
	signal := generateSineWave(900, testSampleRate, testBlockSize, 1.0)

	before, _ := g.Magnitude(signal)
	if err := g.Retune(900); err != nil {
		t.Fatalf("Retune() error = %v", err)
	}
	after, _ := g.Magnitude(signal)

	if after <= before {
		t.Errorf("magnitude after retune = %v, should exceed %v", after, before)
	}
	if g.Frequency() != 900 || g.Config().TargetFrequency != 900 {
		t.Errorf("Frequency() = %v, want 900", g.Frequency())
	}
	if err := g.Retune(testNyquistFreq); err != ErrInvalidFrequency {
		t.Errorf("Retune(nyquist) error = %v, want %v", err, ErrInvalidFrequency)
	}
	if g.Frequency() != 900 {
		t.Error("failed Retune() should keep the previous frequency")
	}
}

func BenchmarkGoertzel_Magnitude(b *testing.B) {
	g, err := NewGoertzel(GoertzelConfig{
		TargetFrequency: testToneFrequency,
		SampleRate:      testSampleRate,
		BlockSize:       testBlockSize,
	})
	if err != nil {
		b.Fatalf("NewGoertzel failed: %v", err)
	}
	samples := generateSineWave(testToneFrequency, testSampleRate, testBlockSize, 1.0)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.magnitude(samples)
	}
}
