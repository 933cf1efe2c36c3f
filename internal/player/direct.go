package player

import (
	"fmt"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

// DirectSource plays addressable files; every quality is its own URL.
type DirectSource struct {
	surface ports.Surface
}

func (d *DirectSource) Kind() domain.SourceKind { return domain.SourceDirect }

func (d *DirectSource) Attach(surface ports.Surface, _ func(error)) error {
	d.surface = surface
	return nil
}

func (d *DirectSource) Load(q domain.Quality, ready func()) error {
	if d.surface == nil {
		return fmt.Errorf("%w: surface not attached", domain.ErrReplaceFailed)
	}
	if err := d.surface.SetSource(q.URL); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReplaceFailed, err)
	}
	if ready != nil {
		ready()
	}
	return nil
}

func (d *DirectSource) Close() {}
