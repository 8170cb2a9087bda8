package mcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// StreamTransport adapts a blocking io.Reader and io.Writer pair, such as stdin/stdout or an
// opened serial port, into a Transport. A background goroutine performs the blocking reads
// and hands the chunks over to ReadAvailable.
//
// Resources must be released by calling Close when the StreamTransport is no longer needed.
type StreamTransport struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	chunks  chan []byte
	done    chan struct{}
	readErr chan error
	err     error

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
}

// StreamTransportOption configures a StreamTransport.
type StreamTransportOption func(*StreamTransport)

const (
	defaultStreamChunkSize  = 256
	defaultStreamQueueDepth = 64
)

// ErrTransportClosed is returned after Close.
var ErrTransportClosed = errors.New("transport closed")

// NewStreamTransport creates a StreamTransport reading from reader and writing to writer.
// The background reader starts on the first ReadAvailable call.
func NewStreamTransport(reader io.Reader, writer io.Writer, options ...StreamTransportOption) *StreamTransport {
	t := &StreamTransport{
		reader:  reader,
		writer:  writer,
		logger:  slog.Default(),
		chunks:  make(chan []byte, defaultStreamQueueDepth),
		done:    make(chan struct{}),
		readErr: make(chan error, 1),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithStreamTransportLogger sets the logger of the transport.
func WithStreamTransportLogger(logger *slog.Logger) StreamTransportOption {
	return func(t *StreamTransport) {
		t.logger = logger.With(
			slog.String("package", "go-mcp-device"),
			slog.String("component", "stream-transport"),
		)
	}
}

// ReadAvailable implements Transport. It drains every chunk the background reader has
// received so far and returns immediately.
func (t *StreamTransport) ReadAvailable() ([]byte, error) {
	t.startOnce.Do(func() { go t.readLoop() })

	buf := t.drain(nil)
	if len(buf) > 0 {
		return buf, nil
	}

	if t.err != nil {
		return nil, t.err
	}
	select {
	case err := <-t.readErr:
		// Chunks sent before the error are already queued.
		buf = t.drain(buf)
		t.err = err
		if len(buf) > 0 {
			return buf, nil
		}
		return nil, err
	default:
	}
	return nil, nil
}

// Write implements Transport.
func (t *StreamTransport) Write(p []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(p); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close stops the background reader and closes the reader and writer when they implement
// io.Closer.
func (t *StreamTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.done)
		if c, ok := t.reader.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close reader: %w", err))
			}
		}
		if c, ok := t.writer.(io.Closer); ok && any(t.writer) != any(t.reader) {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

func (t *StreamTransport) drain(buf []byte) []byte {
	for {
		select {
		case chunk := <-t.chunks:
			buf = append(buf, chunk...)
		default:
			return buf
		}
	}
}

func (t *StreamTransport) readLoop() {
	for {
		buf := make([]byte, defaultStreamChunkSize)
		n, err := t.reader.Read(buf)
		if n == 0 && err == nil {
			// Read timeouts on serial ports return nothing.
			select {
			case <-t.done:
				return
			default:
			}
			continue
		}
		if n > 0 {
			select {
			case t.chunks <- buf[:n]:
			case <-t.done:
				return
			}
		}
		if err != nil {
			select {
			case <-t.done:
				err = ErrTransportClosed
			default:
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrTransportClosed) {
				t.logger.Error("failed to read from stream", slog.String("err", err.Error()))
			}
			t.readErr <- err
			return
		}
	}
}
