package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection to the motion controller.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options to the mode go.bug.st/serial opens with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialSource reads feed lines from the motion controller.
type SerialSource struct {
	port      io.ReadCloser
	lines     atomic.Uint64
	malformed atomic.Uint64
}

// OpenSerial opens the serial port at path.
func OpenSerial(path string, opts PortOptions) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return NewSerialSource(port), nil
}

// NewSerialSource reads lines from r. Used directly by tests.
func NewSerialSource(r io.ReadCloser) *SerialSource {
	return &SerialSource{port: r}
}

// Run reads lines until ctx is cancelled or the port ends, passing each
// parsed message to handle. Malformed lines and handler errors are logged
// and skipped.
func (s *SerialSource) Run(ctx context.Context, handle func(Message) error) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("serial feed: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("serial feed: %w", err)
				default:
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			s.lines.Add(1)
			m, err := ParseLine(line)
			if err != nil {
				s.malformed.Add(1)
				log.Printf("feed: %v", err)
				continue
			}
			if err := handle(m); err != nil && !errors.Is(err, ErrUnknownChannel) {
				log.Printf("feed: %v", err)
			}
		}
	}
}

// Stats returns the number of lines read and how many were malformed.
func (s *SerialSource) Stats() (lines, malformed uint64) {
	return s.lines.Load(), s.malformed.Load()
}

// Close closes the port, which also ends Run.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
