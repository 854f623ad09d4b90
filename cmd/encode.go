package cmd

import (
	"fmt"
	"strings"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/ColonelBlimp/morselink/internal/wavfile"
	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode TEXT...",
	Short: "Show the Morse code and timing for text",
	Long: `Prints the code groups for TEXT, separating words with " / ", and the
length of the transmission at the configured unit. With --wav the
transmission is also rendered as a tone to a WAV file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().String("wav", "", "render the transmission to this WAV file")
}

func runEncode(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := timingProfile(s)
	if err != nil {
		return err
	}

	text, dropped, err := keyer.Normalize(cw.Standard, strings.Join(args, " "), s.StrictText)
	if err != nil {
		return fmt.Errorf("normalize text: %w", err)
	}
	if len(dropped) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipping unsupported characters %q\n", string(dropped))
	}

	codes, err := codeGroups(cw.Standard, text)
	if err != nil {
		return err
	}
	tl := keyer.BuildTimeline(cw.Standard, text, p)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, codes)
	fmt.Fprintf(out, "%d units, %v at %d WPM (key down %v)\n",
		int(tl.Length/p.Unit()), tl.Length, p.WPM(), tl.ActiveTime())

	path, _ := cmd.Flags().GetString("wav")
	if path == "" {
		return nil
	}
	if err := wavfile.Save(path, tl, renderConfig(s)); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

// codeGroups renders normalized text as space separated codes with " / "
// between words.
func codeGroups(table *cw.Table, text string) (string, error) {
	words := strings.Fields(text)
	groups := make([]string, 0, len(words))
	for _, word := range words {
		codes := make([]string, 0, len(word))
		for _, char := range word {
			code, err := table.Encode(char)
			if err != nil {
				return "", err
			}
			codes = append(codes, string(code))
		}
		groups = append(groups, strings.Join(codes, " "))
	}
	return strings.Join(groups, " / "), nil
}
