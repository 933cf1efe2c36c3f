package player

import (
	"context"
	"log/slog"
)

// HandleKey applies a keyboard shortcut and reports whether key is bound.
//
//	space, k      toggle play
//	→ l / ← j     skip forward / backward (debounced)
//	↑ / ↓         volume
//	m  f          mute, fullscreen
//	n  p          next, previous episode
//	b             bookmark current position
//	0-9           seek to 0%..90%
func (c *Controller) HandleKey(ctx context.Context, key string) bool {
	var err error
	switch key {
	case " ", "k":
		err = c.TogglePlay()
	case "ArrowRight", "l":
		c.SkipForward(0)
	case "ArrowLeft", "j":
		c.SkipBackward(0)
	case "ArrowUp":
		err = c.VolumeUp()
	case "ArrowDown":
		err = c.VolumeDown()
	case "m":
		err = c.ToggleMute()
	case "f":
		err = c.ToggleFullscreen()
	case "n":
		err = c.NextEpisode(ctx)
	case "p":
		err = c.PreviousEpisode(ctx)
	case "b":
		_, err = c.AddBookmark(ctx, "", "")
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			err = c.SeekPercentage(float64(key[0]-'0') * 10)
			break
		}
		return false
	}
	if err != nil {
		c.logger.Debug("shortcut not applied", slog.String("key", key), slog.String("error", err.Error()))
	}
	return true
}
