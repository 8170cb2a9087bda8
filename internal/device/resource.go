package device

import (
	"context"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

func (b *Board) resources() []mcp.Resource {
	return []mcp.Resource{
		{
			URI:         "temperature",
			Name:        "Temperature",
			Description: "Temperature of the board in degrees Celsius",
			MimeType:    "text/plain",
			Handler: func(context.Context) (mcp.Value, error) {
				return mcp.Number(b.temperature()), nil
			},
		},
		{
			URI:         "light_level",
			Name:        "Light level",
			Description: "Ambient light from 0 (dark) to 255 (bright)",
			MimeType:    "text/plain",
			Handler: func(context.Context) (mcp.Value, error) {
				return mcp.Number(float64(b.lightLevel())), nil
			},
		},
		{
			URI:         "display",
			Name:        "Display",
			Description: "The LED matrix, one row per line, '#' for lit pixels",
			MimeType:    "text/plain",
			Handler: func(context.Context) (mcp.Value, error) {
				return mcp.Text(b.Render()), nil
			},
		},
	}
}
