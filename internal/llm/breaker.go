package llm

import (
	"context"

	"github.com/aixgo-dev/duet/internal/pace"
)

type guarded struct {
	next    Completer
	breaker *pace.Breaker
}

// WithBreaker stops calling c while b is open; calls then fail fast with
// pace.ErrOpen.
func WithBreaker(c Completer, b *pace.Breaker) Completer {
	return &guarded{next: c, breaker: b}
}

func (g *guarded) Complete(ctx context.Context, req Request) (string, error) {
	var text string
	err := g.breaker.Execute(func() error {
		var err error
		text, err = g.next.Complete(ctx, req)
		return err
	})
	return text, err
}
