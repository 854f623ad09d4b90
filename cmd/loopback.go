package cmd

import (
	"fmt"
	"strings"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/loopback"
	"github.com/ColonelBlimp/morselink/internal/report"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback TEXT...",
	Short: "Send text through a simulated channel and decode it",
	Long: `Keys TEXT on a virtual clock, samples the key line every --tick with
optional edge jitter and sample noise, decodes the result and reports the
edit distance between what was sent and what was received.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoopback,
}

func init() {
	loopbackCmd.Flags().Duration("tick", 0, "sampling period (0 for a tenth of the unit)")
	loopbackCmd.Flags().Duration("jitter", 0, "largest displacement of each key edge")
	loopbackCmd.Flags().Float64("noise", 0, "probability that a sample reads the wrong level")
	loopbackCmd.Flags().Uint64("seed", 1, "random seed for jitter and noise")
	loopbackCmd.Flags().String("report", "", "write a YAML diagnostics report to this file")
}

func runLoopback(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := timingProfile(s)
	if err != nil {
		return err
	}

	cfg := loopback.DefaultConfig(p)
	cfg.Decoder = decoderConfig(s)
	cfg.Strict = s.StrictText
	cfg.Logger = newLogger(cmd, s)
	if tick, _ := cmd.Flags().GetDuration("tick"); tick > 0 {
		cfg.Tick = tick
	}
	cfg.Jitter, _ = cmd.Flags().GetDuration("jitter")
	cfg.Noise, _ = cmd.Flags().GetFloat64("noise")
	cfg.Seed, _ = cmd.Flags().GetUint64("seed")

	res, err := loopback.Run(cmd.Context(), cw.Standard, strings.Join(args, " "), cfg)
	if err != nil {
		return fmt.Errorf("loopback: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sent:     %s\n", res.Sent)
	fmt.Fprintf(out, "received: %s\n", res.Received)
	fmt.Fprintf(out, "distance: %d (%.1f%% of %s characters, %s samples)\n",
		res.Distance, res.ErrorRate*100,
		humanize.Comma(int64(len([]rune(res.Sent)))), humanize.Comma(int64(res.Samples)))

	path, _ := cmd.Flags().GetString("report")
	if path == "" {
		return nil
	}
	return report.Save(path, report.Build(res.Decoder, report.Options{Source: "loopback"}))
}
