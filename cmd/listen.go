package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ColonelBlimp/morselink/internal/audio"
	"github.com/ColonelBlimp/morselink/internal/config"
	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/ColonelBlimp/morselink/internal/publish"
	"github.com/ColonelBlimp/morselink/internal/receiver"
	"github.com/ColonelBlimp/morselink/internal/recording"
	"github.com/ColonelBlimp/morselink/internal/recovery"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// fallbackFrequency is used when pitch detection on live input finds no tone.
const fallbackFrequency = 600

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Decode Morse from live audio input",
	Long: `Captures audio from the configured device and prints decoded characters
as they arrive, until interrupted. On a terminal the text runs on one line;
otherwise each word is written on its own line.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().String("record", "", "also record the samples to this .jsonl file")
	listenCmd.Flags().String("report", "", "write a YAML diagnostics report to this file on exit")
}

func runListen(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, s)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture := audio.New(audioConfig(s))
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer capture.Close()

	frequency := s.ToneFrequency
	if frequency == 0 {
		frequency = fallbackFrequency
	}
	r, err := receiver.New(cw.Standard, receiverConfig(s, s.SampleRate, frequency), logger)
	if err != nil {
		return err
	}

	pub, err := openPublisher(s, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}
	out := cmd.OutOrStdout()
	r.Decoder().SetCallback(liveEcho(out, isTerminal(out), pub))

	if path, _ := cmd.Flags().GetString("record"); path != "" {
		w, err := recording.Create(path, recording.Header{
			Created:       time.Now(),
			Source:        fmt.Sprintf("audio device %d", s.DeviceIndex),
			ToneFrequency: s.ToneFrequency,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "close recording: %v\n", err)
			}
			logger.Printf("Listen: recorded %d samples to %s", w.Count(), path)
		}()
		// flush what was recorded if the decode loop panics
		defer recovery.HandlePanicFunc(func() { _ = w.Close() })
		r.SetTap(func(sample cw.Sample) {
			if err := w.Write(sample); err != nil {
				logger.Printf("Listen: record sample: %v", err)
			}
		})
	}

	r.SetOrigin(time.Now())
	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	logger.Printf("Listen: capturing at %v Hz, tone %v Hz", s.SampleRate, frequency)

	tuner := newPitchTuner(s, logger)
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Drain()
			fmt.Fprintln(out)
			return finishReport(cmd, r.Decoder(), "live audio")
		case block, ok := <-capture.Samples:
			if !ok {
				return nil
			}
			tuner.observe(r, block)
			r.Process(block)
		case <-status.C:
			stats := r.Decoder().Stats()
			logger.Printf("Listen: threshold %.3f, %d characters, %d blocks dropped",
				r.Threshold(), stats.Characters, capture.Dropped())
		}
	}
}

// liveEcho prints decoded output as it arrives and forwards it to pub.
func liveEcho(out io.Writer, tty bool, pub *publish.Publisher) cw.DecodedCallback {
	return func(o cw.DecodedOutput) {
		if pub != nil {
			pub.Handle(o)
		}
		if o.IsWordSpace && !tty {
			fmt.Fprintln(out)
			return
		}
		fmt.Fprintf(out, "%c", o.Character)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// pitchTuner retunes the receiver once from the first second of audio when
// the tone frequency is configured as 0.
type pitchTuner struct {
	cfg    dsp.PitchConfig
	want   int
	buf    []float32
	done   bool
	logger *log.Logger
}

func newPitchTuner(s *config.Settings, logger *log.Logger) *pitchTuner {
	return &pitchTuner{
		cfg:    dsp.DefaultPitchConfig(s.SampleRate),
		want:   int(s.SampleRate),
		done:   s.ToneFrequency != 0,
		logger: logger,
	}
}

func (p *pitchTuner) observe(r *receiver.Receiver, block []float32) {
	if p.done {
		return
	}
	p.buf = append(p.buf, block...)
	if len(p.buf) < p.want {
		return
	}

	frequency, err := dsp.EstimatePitch(p.buf, p.cfg)
	if err != nil {
		// keep listening; the tone may not have started yet
		p.buf = p.buf[:0]
		p.logger.Printf("Listen: no tone yet: %v", err)
		return
	}
	p.done = true
	p.buf = nil
	if err := r.Retune(frequency); err != nil {
		p.logger.Printf("Listen: retune to %.1f Hz: %v", frequency, err)
		return
	}
	p.logger.Printf("Listen: detected tone at %.1f Hz", frequency)
}
