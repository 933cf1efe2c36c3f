package ports

import (
	"context"
	"io"

	"watchcompanion/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, toast domain.Toast)
}

// Prompter asks the user whether to resume from a checkpoint. Ask blocks until
// the user answers or ctx is done.
type Prompter interface {
	Ask(ctx context.Context, cp domain.ResumeCheckpoint) (bool, error)
	Dismiss()
}

type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
	DirectionAutoNext Direction = "auto-next"
)

// Navigator moves to a neighbouring episode.
type Navigator interface {
	Advance(ctx context.Context, dir Direction) error
}

// Saver persists a finished download under filename.
type Saver interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}
