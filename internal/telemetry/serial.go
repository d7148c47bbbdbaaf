package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// SerialSource reads one JSON frame per line from a serial port.
type SerialSource struct {
	opts serial.OpenOptions
	sink Sink
}

// NewSerialSource prepares an 8N1 port at baud.
func NewSerialSource(port string, baud int, sink Sink) *SerialSource {
	return &SerialSource{
		opts: serial.OpenOptions{
			PortName:              port,
			BaudRate:              uint(baud),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		sink: sink,
	}
}

// Run reads frames until ctx is done or the port fails. A read failure is
// reported to the sink as a disconnect.
func (s *SerialSource) Run(ctx context.Context) error {
	port, err := serial.Open(s.opts)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", s.opts.PortName, err)
	}
	log.Infof("telemetry: serial port opened on %s at %d baud", s.opts.PortName, s.opts.BaudRate)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
			port.Close()
		}
	}()

	s.sink.HandleConnectionEvent(true)
	err = ReadFrames(port, s.sink)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.sink.HandleConnectionEvent(false)
	return err
}

// ReadFrames dispatches every line of r as a frame. Bad lines are logged
// and skipped; the returned error is the reader's.
func ReadFrames(r io.Reader, sink Sink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		f, err := DecodeFrame([]byte(line))
		if err != nil {
			log.Debugf("telemetry: %v (line: %q)", err, line)
			continue
		}
		if err := Dispatch(f, sink); err != nil {
			log.Warnf("telemetry: dropped frame: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("telemetry: serial read: %w", err)
	}
	return io.ErrUnexpectedEOF
}
