package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// Limits configures per-provider pacing.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
}

func (l Limits) limiter() *rate.Limiter {
	if l.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.RequestsPerSecond), burst)
}

type limitedPublisher struct {
	next    Publisher
	limiter *rate.Limiter
}

func (p limitedPublisher) Publish(ctx context.Context, req PublishRequest) (PublishOutcome, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return PublishOutcome{}, err
	}
	return p.next.Publish(ctx, req)
}

type limitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

func (g limitedGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationOutput, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return GenerationOutput{}, err
	}
	return g.next.Generate(ctx, req)
}

// ThrottleSocial gives every configured provider its own limiter.
func ThrottleSocial(set SocialSet, limits Limits) SocialSet {
	wrap := func(p Publisher) Publisher {
		if p == nil {
			return nil
		}
		return limitedPublisher{next: p, limiter: limits.limiter()}
	}
	return SocialSet{
		FacebookIG: wrap(set.FacebookIG),
		X:          wrap(set.X),
		LinkedIn:   wrap(set.LinkedIn),
		TikTok:     wrap(set.TikTok),
	}
}

// ThrottleGeneration gives every configured generator its own limiter.
func ThrottleGeneration(set GenerationSet, limits Limits) GenerationSet {
	wrap := func(g Generator) Generator {
		if g == nil {
			return nil
		}
		return limitedGenerator{next: g, limiter: limits.limiter()}
	}
	return GenerationSet{
		Text:  wrap(set.Text),
		Image: wrap(set.Image),
		Video: wrap(set.Video),
		Audio: wrap(set.Audio),
	}
}
