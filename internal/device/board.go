// Package device implements a simulated micro:bit style board that exposes its LED matrix and
// sensors as MCP tools and resources. It is used by mcp-device serve when no catalog replaces
// it, and as a fixture for end-to-end tests of the engine.
package device

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

// Size is the width and height of the LED matrix.
const Size = 5

// Board holds the state of the simulated device. The LED matrix and the sensor sources are
// guarded by a mutex so a Board can be inspected while the engine runs.
type Board struct {
	mu     sync.Mutex
	leds   [Size][Size]bool
	number *int64

	temperature func() float64
	lightLevel  func() int
	logger      *slog.Logger
}

// Option configures a Board.
type Option func(*Board)

// NewBoard creates a board with a dark display, a temperature of 21°C and a light level of 128.
func NewBoard(options ...Option) *Board {
	b := &Board{
		temperature: func() float64 { return 21 },
		lightLevel:  func() int { return 128 },
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("package", "go-mcp-device"), slog.String("component", "device"))
	return b
}

// WithTemperature sets the source of the temperature sensor, in degrees Celsius.
func WithTemperature(read func() float64) Option {
	return func(b *Board) {
		b.temperature = read
	}
}

// WithLightLevel sets the source of the light sensor, from 0 (dark) to 255 (bright).
func WithLightLevel(read func() int) Option {
	return func(b *Board) {
		b.lightLevel = read
	}
}

// WithLogger sets the logger of the board.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) {
		b.logger = logger
	}
}

// Register adds the board tools and resources to u.
func (b *Board) Register(u mcp.Upserter) error {
	for _, tool := range b.tools() {
		if err := u.UpsertTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	for _, resource := range b.resources() {
		if err := u.UpsertResource(resource); err != nil {
			return fmt.Errorf("failed to register resource %s: %w", resource.URI, err)
		}
	}
	return nil
}

// Lit reports whether the LED at column x, row y is on.
func (b *Board) Lit(x, y int) bool {
	if !inRange(x) || !inRange(y) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leds[y][x]
}

// Render draws the matrix as five rows of '#' (on) and '.' (off).
func (b *Board) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.render()
}

// Number returns the last number shown, if any.
func (b *Board) Number() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.number == nil {
		return 0, false
	}
	return *b.number, true
}

func (b *Board) render() string {
	var sb strings.Builder
	for y := range Size {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := range Size {
			if b.leds[y][x] {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
	}
	return sb.String()
}

func inRange(v int) bool {
	return v >= 0 && v < Size
}
