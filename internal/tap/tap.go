// Package tap mirrors the traffic of an mcp.Transport to debugging observers. Observers connect
// over HTTP and receive every chunk read from the link and every message written to it as
// Server-Sent Events. Publishing never blocks the engine: slow observers lose events.
package tap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

// Event directions, used as the SSE event type.
const (
	Received = "rx"
	Sent     = "tx"
)

const helloEvent = "hello"

// Event is one observed chunk of traffic.
type Event struct {
	Direction string    `json:"-"`
	Time      time.Time `json:"time"`
	Data      string    `json:"data"`
}

// Tap wraps a Transport and publishes its traffic to subscribers. Tap itself implements
// mcp.Transport, so it is passed to mcp.NewServer in place of the wrapped transport.
type Tap struct {
	transport mcp.Transport
	logger    *slog.Logger
	depth     int

	mu          sync.Mutex
	subscribers map[string]chan Event
	dropped     map[string]int
}

// Option configures a Tap.
type Option func(*Tap)

// New wraps transport.
func New(transport mcp.Transport, options ...Option) *Tap {
	t := &Tap{
		transport:   transport,
		logger:      slog.Default(),
		depth:       64,
		subscribers: make(map[string]chan Event),
		dropped:     make(map[string]int),
	}
	for _, opt := range options {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("package", "go-mcp-device"), slog.String("component", "tap"))
	return t
}

// WithLogger sets the logger of the tap.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tap) {
		t.logger = logger
	}
}

// WithSubscriberDepth sets how many events may be queued for one subscriber before further
// events are dropped for it.
func WithSubscriberDepth(depth int) Option {
	return func(t *Tap) {
		if depth > 0 {
			t.depth = depth
		}
	}
}

// ReadAvailable implements mcp.Transport.
func (t *Tap) ReadAvailable() ([]byte, error) {
	p, err := t.transport.ReadAvailable()
	if len(p) > 0 {
		t.publish(Received, p)
	}
	return p, err
}

// Write implements mcp.Transport.
func (t *Tap) Write(p []byte) error {
	if err := t.transport.Write(p); err != nil {
		return err
	}
	t.publish(Sent, p)
	return nil
}

// Subscribers returns the number of connected observers.
func (t *Tap) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Subscribe registers an observer and returns its id, its event channel and a function that
// unregisters it.
func (t *Tap) Subscribe() (string, <-chan Event, func()) {
	id := uuid.New().String()
	events := make(chan Event, t.depth)

	t.mu.Lock()
	t.subscribers[id] = events
	t.mu.Unlock()

	return id, events, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if dropped := t.dropped[id]; dropped > 0 {
			t.logger.Warn("subscriber lost events", slog.String("subscriberID", id), slog.Int("dropped", dropped))
		}
		delete(t.subscribers, id)
		delete(t.dropped, id)
	}
}

func (t *Tap) publish(direction string, p []byte) {
	ev := Event{Direction: direction, Time: time.Now(), Data: string(p)}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, events := range t.subscribers {
		select {
		case events <- ev:
		default:
			t.dropped[id]++
		}
	}
}

// Handler returns an http.Handler that streams the traffic to the requesting client as
// Server-Sent Events. The first event has type "hello" and carries the subscriber id; every
// following event has type "rx" or "tx" and a JSON Event as data. The stream ends when the
// client disconnects.
func (t *Tap) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			t.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		id, events, unsubscribe := t.Subscribe()
		defer unsubscribe()

		hello := sse.Message{
			Type: sse.Type(helloEvent),
		}
		hello.AppendData(id)
		if err := t.send(sess, &hello); err != nil {
			t.logger.Warn("failed to greet subscriber", slog.String("err", err.Error()))
			return
		}
		t.logger.Info("subscriber connected", slog.String("subscriberID", id))

		for {
			select {
			case <-r.Context().Done():
				t.logger.Info("subscriber disconnected", slog.String("subscriberID", id))
				return
			case ev := <-events:
				data, err := json.Marshal(ev)
				if err != nil {
					t.logger.Error("failed to marshal event", slog.String("err", err.Error()))
					continue
				}
				msg := sse.Message{
					Type: sse.Type(ev.Direction),
				}
				msg.AppendData(string(data))
				if err := t.send(sess, &msg); err != nil {
					t.logger.Warn("failed to send event", slog.String("subscriberID", id), slog.String("err", err.Error()))
					return
				}
			}
		}
	})
}

func (t *Tap) send(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}
