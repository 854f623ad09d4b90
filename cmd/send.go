package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ColonelBlimp/morselink/internal/keyer"
	"github.com/ColonelBlimp/morselink/internal/recovery"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [TEXT...]",
	Short: "Key text through the configured actuator",
	Long: `Keys TEXT through the actuator chosen with --actuator. Without TEXT, lines
are read from standard input: each line cancels whatever is still being
sent and replaces it, and an empty line just cancels.`,
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, s)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tx, closer, err := newTransmitter(s, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer tx.Close()

	if len(args) > 0 {
		err := tx.Transmit(ctx, strings.Join(args, " "))
		if errors.Is(err, keyer.ErrCancelled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return sendLines(ctx, tx, cmd.InOrStdin(), cmd.ErrOrStderr())
}

type sendRequest struct {
	ctx  context.Context
	text string
}

// sendLines transmits each input line, cancelling the previous one. It
// returns when input ends and the last line has been sent, or when ctx is
// cancelled.
func sendLines(ctx context.Context, tx *keyer.Transmitter, in io.Reader, errOut io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer recovery.HandlePanic()
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	pending := make(chan sendRequest, 1)
	done := make(chan struct{})
	go func() {
		defer recovery.HandlePanic()
		defer close(done)
		for req := range pending {
			err := tx.Transmit(req.ctx, req.text)
			if err != nil && !errors.Is(err, keyer.ErrCancelled) {
				fmt.Fprintf(errOut, "send: %v\n", err)
			}
		}
	}()

	cancelPrev := context.CancelFunc(func() {})
	finish := func() {
		close(pending)
		<-done
		cancelPrev()
	}

	for {
		select {
		case <-ctx.Done():
			cancelPrev()
			finish()
			return nil
		case line, ok := <-lines:
			if !ok {
				finish()
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			cancelPrev()
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			// a request still queued is stale once a newer line arrives
			select {
			case <-pending:
			default:
			}
			rctx, cancel := context.WithCancel(ctx)
			cancelPrev = cancel
			pending <- sendRequest{ctx: rctx, text: line}
		}
	}
}
