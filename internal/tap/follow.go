package tap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// Follow connects to a tap handler at url and yields its events until ctx is cancelled, the
// stream ends or the consumer stops. A nil httpClient uses http.DefaultClient.
func Follow(ctx context.Context, url string, httpClient *http.Client) iter.Seq2[Event, error] {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return func(yield func(Event, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			yield(Event{}, fmt.Errorf("failed to create request: %w", err))
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := httpClient.Do(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("failed to connect to tap: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(Event{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					yield(Event{}, fmt.Errorf("failed to read tap event: %w", err))
				}
				return
			}

			switch ev.Type {
			case helloEvent:
				continue
			case Received, Sent:
				var e Event
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					if !yield(Event{}, fmt.Errorf("failed to unmarshal event: %w", err)) {
						return
					}
					continue
				}
				e.Direction = ev.Type
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
