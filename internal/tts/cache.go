package tts

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached reuses audio for requests flagged Cache. Everything else passes through.
type Cached struct {
	inner Synthesizer
	cache *lru.Cache[string, Audio]
}

func NewCached(inner Synthesizer, size int) (*Cached, error) {
	cache, err := lru.New[string, Audio](size)
	if err != nil {
		return nil, fmt.Errorf("create filler cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	if !req.Cache {
		return c.inner.Synthesize(ctx, req)
	}
	key := req.Voice + "\x00" + req.Text
	if a, ok := c.cache.Get(key); ok {
		return a, nil
	}
	a, err := c.inner.Synthesize(ctx, req)
	if err != nil {
		return Audio{}, err
	}
	c.cache.Add(key, a)
	return a, nil
}

// Len reports the number of cached phrases.
func (c *Cached) Len() int { return c.cache.Len() }
