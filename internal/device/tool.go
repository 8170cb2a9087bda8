package device

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

// digits holds the 5×5 glyphs of 0-9, one string per row.
var digits = [10][Size]string{
	{".##..", "#..#.", "#..#.", "#..#.", ".##.."},
	{"..#..", ".##..", "..#..", "..#..", ".###."},
	{"###..", "...#.", "..#..", ".#...", "####."},
	{"####.", "...#.", "..#..", "#..#.", ".##.."},
	{"..##.", ".#.#.", "#..#.", "#####", "...#."},
	{"#####", "#....", "####.", "....#", "####."},
	{"...#.", "..#..", ".###.", "#...#", ".###."},
	{"#####", "...#.", "..#..", ".#...", "#...."},
	{".###.", "#...#", ".###.", "#...#", ".###."},
	{".###.", "#...#", ".###.", "..#..", ".#..."},
}

func (b *Board) tools() []mcp.Tool {
	yes := true
	return []mcp.Tool{
		{
			Name:        "led_set",
			Description: "Turn a pixel on the 5×5 LED matrix on or off",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"x":  {Type: mcp.PropertyTypeInteger, Description: "Column (0-4)"},
					"y":  {Type: mcp.PropertyTypeInteger, Description: "Row (0-4)"},
					"on": {Type: mcp.PropertyTypeBoolean, Description: "true → on, false → off"},
				},
				Required: []string{"x", "y", "on"},
			},
			Handler: b.callLEDSet,
		},
		{
			Name:        "show_number",
			Description: "Show a number on the 5×5 LED matrix",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"number": {Type: mcp.PropertyTypeInteger, Description: "Number to show (0-9)"},
				},
				Required: []string{"number"},
			},
			Annotations: &mcp.ToolAnnotations{
				Title:          "Show Number",
				ReadOnlyHint:   &yes,
				IdempotentHint: &yes,
			},
			Handler: b.callShowNumber,
		},
		{
			Name:        "clear_display",
			Description: "Turn every pixel of the 5×5 LED matrix off",
			Handler:     b.callClearDisplay,
		},
	}
}

func (b *Board) callLEDSet(_ context.Context, args mcp.Arguments) (mcp.Value, error) {
	x, err := args.Int("x")
	if err != nil {
		return mcp.Value{}, err
	}
	y, err := args.Int("y")
	if err != nil {
		return mcp.Value{}, err
	}
	on, err := args.Bool("on")
	if err != nil {
		return mcp.Value{}, err
	}
	if !inRange(int(x)) || !inRange(int(y)) {
		return mcp.Value{}, fmt.Errorf("pixel out of range: (%d, %d)", x, y)
	}

	b.mu.Lock()
	b.leds[y][x] = on
	b.number = nil
	b.mu.Unlock()

	state := "off"
	if on {
		state = "on"
	}
	b.logger.Debug("LED set", slog.Int64("x", x), slog.Int64("y", y), slog.Bool("on", on))
	return mcp.Textf("(%d, %d) is %s", x, y, state), nil
}

// callShowNumber scrolls through the digits of the number; the matrix ends on the last one.
func (b *Board) callShowNumber(_ context.Context, args mcp.Arguments) (mcp.Value, error) {
	n, err := args.Int("number")
	if err != nil {
		return mcp.Value{}, err
	}
	if n < 0 {
		return mcp.Value{}, fmt.Errorf("cannot show negative number %d", n)
	}

	s := strconv.FormatInt(n, 10)
	b.mu.Lock()
	for _, d := range s {
		b.draw(digits[d-'0'])
	}
	b.number = &n
	b.mu.Unlock()

	b.logger.Debug("Number shown", slog.Int64("number", n))
	return mcp.Text("ok"), nil
}

func (b *Board) callClearDisplay(context.Context, mcp.Arguments) (mcp.Value, error) {
	b.mu.Lock()
	b.leds = [Size][Size]bool{}
	b.number = nil
	b.mu.Unlock()

	return mcp.Text("ok"), nil
}

func (b *Board) draw(glyph [Size]string) {
	for y, row := range glyph {
		for x := range Size {
			b.leds[y][x] = row[x] == '#'
		}
	}
}
