// Package serialkey drives an external keying interface over a serial port.
// The interface is expected to close its key line on one byte sequence and
// open it on another, as simple microcontroller keyers do.
package serialkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

var (
	ErrClosed       = errors.New("serial keyer closed")
	ErrPortRequired = errors.New("serial port name is required")
	ErrInvalidBaud  = errors.New("baud rate must be positive")
	ErrEmptyCommand = errors.New("key-down and key-up commands must not be empty")
	ErrSameCommands = errors.New("key-down and key-up commands must differ")
)

// Config holds the serial keyer settings.
type Config struct {
	Port string
	Baud int
	Down []byte
	Up   []byte
	// WriteTimeout bounds how long one command may take; zero means no limit.
	WriteTimeout time.Duration
}

// DefaultConfig uses ASCII '1' for key down and '0' for key up.
func DefaultConfig(port string) Config {
	return Config{
		Port:         port,
		Baud:         9600,
		Down:         []byte{'1'},
		Up:           []byte{'0'},
		WriteTimeout: 500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, ErrPortRequired)
	}
	if c.Baud <= 0 {
		errs = append(errs, ErrInvalidBaud)
	}
	if len(c.Down) == 0 || len(c.Up) == 0 {
		errs = append(errs, ErrEmptyCommand)
	} else if string(c.Down) == string(c.Up) {
		errs = append(errs, ErrSameCommands)
	}
	return errors.Join(errs...)
}

// Keyer is a keyer.Actuator writing key commands to a port.
type Keyer struct {
	port   io.WriteCloser
	down   []byte
	up     []byte
	mu     sync.Mutex
	on     bool
	closed bool
}

// Open opens the serial port and leaves the key up.
func Open(cfg Config) (*Keyer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	k := New(port, cfg)
	if err := k.Actuate(context.Background(), false); err != nil {
		_ = port.Close()
		return nil, err
	}
	return k, nil
}

// New wraps an already open port.
func New(port io.WriteCloser, cfg Config) *Keyer {
	return &Keyer{port: port, down: cfg.Down, up: cfg.Up}
}

// Actuate writes the key-down or key-up command.
func (k *Keyer) Actuate(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}
	cmd := k.up
	if on {
		cmd = k.down
	}
	if _, err := k.port.Write(cmd); err != nil {
		return fmt.Errorf("write key command: %w", err)
	}
	k.on = on
	return nil
}

// On reports the last state written successfully.
func (k *Keyer) On() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.on
}

// Close releases the key and the port.
func (k *Keyer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	var err error
	if k.on {
		if _, werr := k.port.Write(k.up); werr != nil {
			err = fmt.Errorf("release key: %w", werr)
		}
		k.on = false
	}
	return errors.Join(err, k.port.Close())
}
