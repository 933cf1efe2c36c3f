package player

import (
	"fmt"
	"log/slog"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/manifest"
)

// Variant is the source-specific part of a controller. The set is closed:
// DirectSource and Streaming, picked once by NewVariant.
type Variant interface {
	Kind() domain.SourceKind
	// Attach prepares the variant for surface. onFailure receives classified
	// errors reported after Load returned.
	Attach(surface ports.Surface, onFailure func(error)) error
	// Load switches to q. ready is called once when the surface can seek.
	Load(q domain.Quality, ready func()) error
	Close()
}

// Hooks let the host react to classified engine errors. A hook returning true
// asks the variant to reload the current manifest.
type Hooks struct {
	RefreshToken func(f ports.EngineFailure) bool
	Backoff      func(f ports.EngineFailure) bool
}

type VariantDeps struct {
	Engine    ports.StreamingEngine
	TokenRule manifest.TokenRule
	Hooks     Hooks
	Logger    *slog.Logger
}

func NewVariant(kind domain.SourceKind, deps VariantDeps) (Variant, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case domain.SourceDirect:
		return &DirectSource{}, nil
	case domain.SourceStreaming:
		if deps.Engine == nil {
			return nil, fmt.Errorf("%w: streaming source needs an engine", domain.ErrInvalidArgument)
		}
		return &Streaming{engine: deps.Engine, rule: deps.TokenRule, hooks: deps.Hooks, logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: no in-page controller for %q sources", domain.ErrInvalidArgument, kind)
	}
}
