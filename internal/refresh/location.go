package refresh

import (
	"context"

	"github.com/metronova/buseta/internal/nearest"
)

// LocationSupplier hands out the current position on demand
type LocationSupplier interface {
	Location(ctx context.Context) (nearest.Point, error)
}

// StaticLocation always reports the same point
type StaticLocation nearest.Point

func (s StaticLocation) Location(ctx context.Context) (nearest.Point, error) {
	return nearest.Point(s), ctx.Err()
}
