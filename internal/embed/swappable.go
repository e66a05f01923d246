package embed

import (
	"context"
	"sync/atomic"

	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Swappable forwards to a provider that can be replaced at runtime, so a
// config reload takes effect for every holder of the handle.
type Swappable struct {
	current atomic.Pointer[providerBox]
}

type providerBox struct {
	p ports.EmbeddingProvider
}

var _ ports.EmbeddingProvider = (*Swappable)(nil)

func NewSwappable(p ports.EmbeddingProvider) *Swappable {
	s := &Swappable{}
	s.current.Store(&providerBox{p: p})
	return s
}

// Swap installs p and returns the previous provider, which the caller closes
// once in-flight calls have drained.
func (s *Swappable) Swap(p ports.EmbeddingProvider) ports.EmbeddingProvider {
	return s.current.Swap(&providerBox{p: p}).p
}

// Current returns the active provider.
func (s *Swappable) Current() ports.EmbeddingProvider {
	return s.current.Load().p
}

func (s *Swappable) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	return s.Current().Embed(ctx, text)
}

func (s *Swappable) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	return s.Current().EmbedBatch(ctx, texts)
}

func (s *Swappable) Dimensions() int { return s.Current().Dimensions() }
func (s *Swappable) ModelName() string { return s.Current().ModelName() }
func (s *Swappable) Close() error { return s.Current().Close() }
