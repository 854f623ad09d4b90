package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ColonelBlimp/morselink/internal/config"
	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/ColonelBlimp/morselink/internal/receiver"
	"github.com/ColonelBlimp/morselink/internal/recording"
	"github.com/ColonelBlimp/morselink/internal/report"
	"github.com/ColonelBlimp/morselink/internal/wavfile"
)

var testOrigin = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// levelsAt walks a timeline every step from lead before it to tail after it.
func levelsAt(tl keyer.Timeline, step, lead, tail time.Duration, visit func(at time.Duration, on bool)) {
	next, on := 0, false
	for at := -lead; at <= tl.Length+tail; at += step {
		for next < len(tl.Commands) && tl.Commands[next].At <= at {
			on = tl.Commands[next].On
			next++
		}
		visit(at+lead, on)
	}
}

func defaultTimeline(t *testing.T, text string) keyer.Timeline {
	t.Helper()
	p, err := cw.NewTimingProfile(120 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewTimingProfile() error = %v", err)
	}
	return keyer.BuildTimeline(cw.Standard, text, p)
}

func TestTableCmd(t *testing.T) {
	setupConfig(t, "")

	stdout, _, err := execute(t, "", "table")
	if err != nil {
		t.Fatalf("table error = %v", err)
	}
	for _, want := range []string{"A  .-\n", "S  ...\n", "0  -----\n"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("table output missing %q", want)
		}
	}
	if lines := strings.Count(stdout, "\n"); lines != cw.Standard.Len() {
		t.Errorf("table printed %d lines, want %d", lines, cw.Standard.Len())
	}
}

func TestEncodeCmd(t *testing.T) {
	setupConfig(t, "")

	tests := []struct {
		args  []string
		codes string
		units string
	}{
		{[]string{"SOS"}, "... --- ...", "27 units"},
		{[]string{"cq", "de"}, "-.-. --.- / -.. .", ""},
		{[]string{"PARIS"}, ".--. .- .-. .. ...", "43 units"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			stdout, _, err := execute(t, "", append([]string{"encode"}, tt.args...)...)
			if err != nil {
				t.Fatalf("encode error = %v", err)
			}
			lines := strings.Split(stdout, "\n")
			if lines[0] != tt.codes {
				t.Errorf("codes = %q, want %q", lines[0], tt.codes)
			}
			if tt.units != "" && !strings.Contains(stdout, tt.units) {
				t.Errorf("output = %q, want %q", stdout, tt.units)
			}
		})
	}
}

func TestEncodeCmd_UnsupportedCharacters(t *testing.T) {
	setupConfig(t, "")

	stdout, stderr, err := execute(t, "", "encode", "E#")
	if err != nil {
		t.Fatalf("encode error = %v", err)
	}
	if !strings.HasPrefix(stdout, ".\n") {
		t.Errorf("codes = %q, want just E", stdout)
	}
	if !strings.Contains(stderr, "#") {
		t.Errorf("stderr = %q, want the skipped character", stderr)
	}

	setupConfig(t, "strict_text: true")
	if _, _, err := execute(t, "", "encode", "E#"); err == nil {
		t.Error("strict encode should reject unsupported characters")
	}
}

func TestEncodeAndDecodeWAV(t *testing.T) {
	setupConfig(t, "")
	path := filepath.Join(t.TempDir(), "sos.wav")

	if _, _, err := execute(t, "", "encode", "SOS", "--wav", path); err != nil {
		t.Fatalf("encode --wav error = %v", err)
	}
	audio, err := wavfile.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// 27 units plus half a second either side
	want := 27*120*time.Millisecond + time.Second
	if d := audio.Duration(); d < want-10*time.Millisecond || d > want+10*time.Millisecond {
		t.Errorf("wav duration = %v, want about %v", d, want)
	}

	reportPath := filepath.Join(t.TempDir(), "report.yaml")
	stdout, stderr, err := execute(t, "", "decode", path, "--report", reportPath)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if stdout != "SOS\n" {
		t.Errorf("decode output = %q, want %q", stdout, "SOS\n")
	}
	if !strings.Contains(stderr, "3 characters") {
		t.Errorf("summary = %q, want 3 characters", stderr)
	}

	rep, err := report.Load(reportPath)
	if err != nil {
		t.Fatalf("report.Load() error = %v", err)
	}
	if rep.Text != "SOS" || rep.Source != path {
		t.Errorf("report text = %q source = %q", rep.Text, rep.Source)
	}
}

func TestDecodeCmd_DetectsPitch(t *testing.T) {
	setupConfig(t, "tone_frequency: 750")
	path := filepath.Join(t.TempDir(), "test.wav")
	if _, _, err := execute(t, "", "encode", "TEST", "--wav", path); err != nil {
		t.Fatalf("encode --wav error = %v", err)
	}

	setupConfig(t, "tone_frequency: 0")
	stdout, _, err := execute(t, "", "decode", path)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if stdout != "TEST\n" {
		t.Errorf("decode output = %q, want %q", stdout, "TEST\n")
	}
}

func TestDecodeCmd_Recording(t *testing.T) {
	setupConfig(t, "")
	path := filepath.Join(t.TempDir(), "samples.jsonl")

	w, err := recording.Create(path, recording.Header{Created: testOrigin, Source: "test"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	levelsAt(defaultTimeline(t, "CQ DE K1ABC"), 10*time.Millisecond, 300*time.Millisecond, 0, func(at time.Duration, on bool) {
		if err := w.Write(cw.Sample{Timestamp: testOrigin.Add(at), Active: on}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// the recording ends on the last key-up, so decode has to close the
	// final character itself
	stdout, _, err := execute(t, "", "decode", path)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if stdout != "CQ DE K1ABC\n" {
		t.Errorf("decode output = %q, want %q", stdout, "CQ DE K1ABC\n")
	}
}

func TestDecodeCmd_MissingFile(t *testing.T) {
	setupConfig(t, "")

	if _, _, err := execute(t, "", "decode", filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Error("decode of a missing file should fail")
	}
	if _, _, err := execute(t, "", "decode"); err == nil {
		t.Error("decode without a file should fail")
	}
}

func writeFrames(t *testing.T, dir, text string, step time.Duration) {
	t.Helper()
	i := 0
	levelsAt(defaultTimeline(t, text), step, 300*time.Millisecond, 300*time.Millisecond, func(_ time.Duration, on bool) {
		level := uint8(15)
		if on {
			level = 240
		}
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for p := range img.Pix {
			img.Pix[p] = level
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("png.Encode() error = %v", err)
		}
		name := filepath.Join(dir, fmt.Sprintf("frame%05d.png", i))
		if err := os.WriteFile(name, buf.Bytes(), 0644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		i++
	})
}

func TestFramesCmd(t *testing.T) {
	setupConfig(t, "")
	dir := t.TempDir()
	writeFrames(t, dir, "SOS", 20*time.Millisecond)
	// stray files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := execute(t, "", "frames", dir, "--fps", "50")
	if err != nil {
		t.Fatalf("frames error = %v", err)
	}
	if stdout != "SOS\n" {
		t.Errorf("frames output = %q, want %q", stdout, "SOS\n")
	}
}

func TestFramesCmd_Errors(t *testing.T) {
	setupConfig(t, "")

	if _, _, err := execute(t, "", "frames", t.TempDir()); err == nil {
		t.Error("frames of an empty directory should fail")
	}
	dir := t.TempDir()
	writeFrames(t, dir, "E", 20*time.Millisecond)
	if _, _, err := execute(t, "", "frames", dir, "--fps", "0"); err == nil {
		t.Error("frames with --fps 0 should fail")
	}
}

func TestLoadFrame_ConvertsToRGBA(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})
	path := filepath.Join(t.TempDir(), "f.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	rgba, err := loadFrame(path)
	if err != nil {
		t.Fatalf("loadFrame() error = %v", err)
	}
	want := []byte{255, 0, 0, 255, 0, 0, 255, 255}
	if !bytes.Equal(rgba, want) {
		t.Errorf("loadFrame() = %v, want %v", rgba, want)
	}
}

func TestLoopbackCmd(t *testing.T) {
	setupConfig(t, "")
	reportPath := filepath.Join(t.TempDir(), "loop.yaml")

	stdout, _, err := execute(t, "", "loopback", "PARIS", "PARIS", "--jitter", "10ms", "--seed", "3", "--report", reportPath)
	if err != nil {
		t.Fatalf("loopback error = %v", err)
	}
	for _, want := range []string{"sent:     PARIS PARIS\n", "received: PARIS PARIS\n", "distance: 0 (0.0% of 11 characters"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("loopback output = %q, want %q", stdout, want)
		}
	}

	rep, err := report.Load(reportPath)
	if err != nil {
		t.Fatalf("report.Load() error = %v", err)
	}
	if rep.Counters.Characters != 10 || rep.Source != "loopback" {
		t.Errorf("report characters = %d source = %q", rep.Counters.Characters, rep.Source)
	}
}

func TestLoopbackCmd_InvalidNoise(t *testing.T) {
	setupConfig(t, "")

	if _, _, err := execute(t, "", "loopback", "E", "--noise", "2"); err == nil {
		t.Error("loopback with noise 2 should fail")
	}
}

func TestSendCmd_Console(t *testing.T) {
	setupConfig(t, "")

	stdout, _, err := execute(t, "", "--unit", "20", "send", "EE")
	if err != nil {
		t.Fatalf("send error = %v", err)
	}
	if got := strings.Count(stdout, "key down"); got != 2 {
		t.Errorf("key down count = %d, want 2 in %q", got, stdout)
	}
	if !strings.HasSuffix(stdout, "key up\n") {
		t.Errorf("output = %q, want the key left up", stdout)
	}
}

func TestSendCmd_Lines(t *testing.T) {
	setupConfig(t, "")

	stdout, _, err := execute(t, "E\n\nT\n", "--unit", "20", "send")
	if err != nil {
		t.Fatalf("send error = %v", err)
	}
	if !strings.HasSuffix(stdout, "key up\n") {
		t.Errorf("output = %q, want the key left up", stdout)
	}
}

func newRecordingTransmitter(t *testing.T) (*keyer.Transmitter, *keyer.Recorder) {
	t.Helper()
	p, err := cw.NewTimingProfile(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewTimingProfile() error = %v", err)
	}
	clock := &keyer.VirtualClock{}
	rec := &keyer.Recorder{Clock: clock.Now}
	tx, err := keyer.NewTransmitter(rec, keyer.TransmitterConfig{Table: cw.Standard, Profile: p, Sleeper: clock})
	if err != nil {
		t.Fatalf("NewTransmitter() error = %v", err)
	}
	return tx, rec
}

func TestSendLines_LastLineWins(t *testing.T) {
	tx, rec := newRecordingTransmitter(t)
	defer tx.Close()

	var errOut bytes.Buffer
	if err := sendLines(context.Background(), tx, strings.NewReader("SOS\nE\n"), &errOut); err != nil {
		t.Fatalf("sendLines() error = %v", err)
	}

	cmds := rec.Commands()
	if len(cmds) < 2 {
		t.Fatalf("recorded %d commands, want at least 2", len(cmds))
	}
	// whether or not SOS was cut short, E is keyed last
	last := cmds[len(cmds)-2:]
	if !last[0].On || last[1].On || last[1].At-last[0].At != 50*time.Millisecond {
		t.Errorf("last commands = %+v, want one 50ms dot", last)
	}
	if rec.On() {
		t.Error("key left down")
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected errors: %q", errOut.String())
	}
}

func TestSendLines_BlankLinesOnly(t *testing.T) {
	tx, rec := newRecordingTransmitter(t)
	defer tx.Close()

	if err := sendLines(context.Background(), tx, strings.NewReader("\n  \n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("sendLines() error = %v", err)
	}
	if n := len(rec.Commands()); n != 0 {
		t.Errorf("recorded %d commands, want none", n)
	}
}

func TestSendLines_ReportsFailures(t *testing.T) {
	tx, _ := newRecordingTransmitter(t)
	defer tx.Close()

	var errOut bytes.Buffer
	if err := sendLines(context.Background(), tx, strings.NewReader("###\n"), &errOut); err != nil {
		t.Fatalf("sendLines() error = %v", err)
	}
	if !strings.Contains(errOut.String(), "send:") {
		t.Errorf("errors = %q, want the empty text failure", errOut.String())
	}
}

func TestSendLines_Cancelled(t *testing.T) {
	tx, _ := newRecordingTransmitter(t)
	defer tx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a reader that never ends must not keep sendLines alive
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if err := sendLines(ctx, tx, r, &bytes.Buffer{}); err != nil {
		t.Errorf("sendLines() error = %v", err)
	}
}

func TestCodeGroups(t *testing.T) {
	got, err := codeGroups(cw.Standard, "SOS SOS")
	if err != nil {
		t.Fatalf("codeGroups() error = %v", err)
	}
	if want := "... --- ... / ... --- ..."; got != want {
		t.Errorf("codeGroups() = %q, want %q", got, want)
	}
	if _, err := codeGroups(cw.Standard, "#"); err == nil {
		t.Error("codeGroups() should reject unknown characters")
	}
}

func TestLiveEcho(t *testing.T) {
	outputs := []cw.DecodedOutput{
		{Character: 'C'}, {Character: 'Q'}, {Character: ' ', IsWordSpace: true}, {Character: 'K'},
	}

	tests := []struct {
		tty  bool
		want string
	}{
		{true, "CQ K"},
		{false, "CQ\nK"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		echo := liveEcho(&buf, tt.tty, nil)
		for _, o := range outputs {
			echo(o)
		}
		if buf.String() != tt.want {
			t.Errorf("liveEcho(tty=%v) wrote %q, want %q", tt.tty, buf.String(), tt.want)
		}
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}

func TestPitchTuner(t *testing.T) {
	s := &config.Settings{SampleRate: 48000}
	logger := log.New(io.Discard, "", 0)
	r, err := receiver.New(cw.Standard, receiverConfig(&config.Settings{
		SampleRate: 48000, BlockSize: 512, OverlapPct: 50, IntensityThreshold: 0.4,
		AGCDecay: 0.9995, AGCAttack: 0.1, WordGapMultiplier: 3, DurationLogSize: 16, UnitMs: 60,
	}, 48000, fallbackFrequency), logger)
	if err != nil {
		t.Fatalf("receiver.New() error = %v", err)
	}

	tuner := newPitchTuner(s, logger)
	tuner.observe(r, make([]float32, 48000))
	if tuner.done {
		t.Fatal("silence should not settle the pitch")
	}

	synth, err := dsp.NewSynth(750, 48000, 0.5, 0)
	if err != nil {
		t.Fatalf("NewSynth() error = %v", err)
	}
	tone := make([]float32, 24000)
	synth.Fill(tone, true)
	tuner.observe(r, tone)
	if tuner.done {
		t.Fatal("half a second is not enough audio")
	}
	tuner.observe(r, tone)
	if !tuner.done {
		t.Error("a steady tone should settle the pitch")
	}

	fixed := newPitchTuner(&config.Settings{SampleRate: 48000, ToneFrequency: 600}, logger)
	if !fixed.done {
		t.Error("a configured tone frequency needs no detection")
	}
}
