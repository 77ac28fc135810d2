package strategies

import (
	"context"

	"tickreplay/internal/domain"
)

// Noop never opens a position. Useful as a baseline run and in tests.
type Noop struct{}

// NewNoop returns the no-op generator.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Name() string { return "noop" }

func (*Noop) ShouldOpen(_ context.Context, _ *domain.Tick) bool { return false }

func (*Noop) ResetDaily() {}
