// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ColonelBlimp/morselink/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "morselink",
	Short: "Morse code keyer and decoder",
	Long: `Encodes text into timed on/off keying for a console, sidetone or serial
keyer, and decodes Morse from audio, recorded samples or video frames.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("unit", "u", 120, "transmit unit (dot length) in milliseconds")
	rootCmd.PersistentFlags().IntP("threshold", "t", 0, "receive dot/dash boundary in milliseconds (0 for 1.5 x unit)")
	rootCmd.PersistentFlags().Float64P("frequency", "f", 600, "tone frequency in Hz (0 to detect when decoding)")
	rootCmd.PersistentFlags().StringP("actuator", "a", "console", "transmit output: console, tone, serial or none")
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	rootCmd.AddCommand(tableCmd, encodeCmd, sendCmd, decodeCmd, framesCmd, listenCmd, loopbackCmd, devicesCmd)
}

// bindFlags ties the global flags to their config keys. It runs on every
// initialization so the bindings survive viper.Reset.
func bindFlags() {
	viper.BindPFlag("unit_ms", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("dot_threshold_ms", rootCmd.PersistentFlags().Lookup("threshold"))
	viper.BindPFlag("tone_frequency", rootCmd.PersistentFlags().Lookup("frequency"))
	viper.BindPFlag("actuator", rootCmd.PersistentFlags().Lookup("actuator"))
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings returns the validated configuration with flags applied.
func loadSettings() (*config.Settings, error) {
	s, err := config.Get()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

// newLogger writes diagnostics to the command's stderr with --debug and
// discards them otherwise.
func newLogger(cmd *cobra.Command, s *config.Settings) *log.Logger {
	if !s.Debug {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "", log.Ltime|log.Lmicroseconds)
}
