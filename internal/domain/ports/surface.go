package ports

import (
	"context"

	"watchcompanion/internal/domain"
)

// Surface is the element that decodes and renders video.
type Surface interface {
	SetSource(src string) error
	CurrentTime() float64
	Duration() float64
	Seek(seconds float64)
	Play() error
	Pause()
	Paused() bool
	Volume() float64
	SetVolume(v float64)
	Muted() bool
	SetMuted(muted bool)
	ToggleFullscreen()
	// ShowError degrades the surface to a static error panel.
	ShowError(message string)
	Destroy()
}

type SurfaceFactory interface {
	NewSurface(ctx context.Context, session domain.PlaybackSession) (Surface, error)
}

// ControlWidget is the transport-controls overlay bound to a surface.
type ControlWidget interface {
	Bind(surface Surface, qualities []string, onQuality func(label string)) error
	Unbind()
}
