package cmd

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/ColonelBlimp/morselink/internal/config"
	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/dsp"
	"github.com/ColonelBlimp/morselink/internal/receiver"
	"github.com/ColonelBlimp/morselink/internal/recording"
	"github.com/ColonelBlimp/morselink/internal/report"
	"github.com/ColonelBlimp/morselink/internal/wavfile"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Decode Morse from a WAV file or a sample recording",
	Long: `Decodes FILE and prints the text. A .jsonl file is a sample recording made
with "listen --record"; anything else is read as PCM WAV. When the tone
frequency is 0 the pitch of a WAV file is detected first.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().String("report", "", "write a YAML diagnostics report to this file")
}

func runDecode(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, s)
	path := args[0]

	var dec *cw.Decoder
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		dec, err = decodeRecording(cmd, s, path, logger)
	} else {
		dec, err = decodeWAV(s, path, logger)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), dec.Text())
	return finishReport(cmd, dec, path)
}

// finishReport prints the summary and writes the --report file if asked.
func finishReport(cmd *cobra.Command, dec *cw.Decoder, source string) error {
	rep := report.Build(dec, report.Options{Source: source})
	fmt.Fprintln(cmd.ErrOrStderr(), report.Summary(rep))

	path, _ := cmd.Flags().GetString("report")
	if path == "" {
		return nil
	}
	return report.Save(path, rep)
}

func decodeRecording(cmd *cobra.Command, s *config.Settings, path string, logger *log.Logger) (*cw.Decoder, error) {
	r, f, err := recording.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := cw.NewDecoder(cw.Standard, decoderConfig(s))
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	pub, err := openPublisher(s, logger)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		defer pub.Close()
	}
	attachPublisher(dec, pub)

	var last time.Time
	n, err := recording.Replay(r, func(sample cw.Sample) error {
		if err := dec.Feed(sample); err != nil {
			return err
		}
		last = sample.Timestamp
		return nil
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if n > 0 {
		drainDecoder(dec, last)
	}
	logger.Printf("Decode: replayed %d samples from %s (%s)", n, path, r.Header().Source)
	return dec, nil
}

func decodeWAV(s *config.Settings, path string, logger *log.Logger) (*cw.Decoder, error) {
	audio, err := wavfile.Load(path)
	if err != nil {
		return nil, err
	}

	frequency := s.ToneFrequency
	if frequency == 0 {
		frequency, err = dsp.EstimatePitch(audio.Samples, dsp.DefaultPitchConfig(float64(audio.SampleRate)))
		if err != nil {
			return nil, fmt.Errorf("detect tone frequency: %w", err)
		}
		logger.Printf("Decode: detected tone at %.1f Hz", frequency)
	}

	r, err := receiver.New(cw.Standard, receiverConfig(s, float64(audio.SampleRate), frequency), logger)
	if err != nil {
		return nil, err
	}
	pub, err := openPublisher(s, logger)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		defer pub.Close()
	}
	attachPublisher(r.Decoder(), pub)

	r.SetOrigin(time.Now())
	r.Process(audio.Samples)
	r.Drain()
	logger.Printf("Decode: %v of audio at %d Hz, threshold %.3f", audio.Duration(), audio.SampleRate, r.Threshold())
	return r.Decoder(), nil
}
