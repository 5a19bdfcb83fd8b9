// Package providers defines the generation and social publish capabilities the
// core drives, plus mock and rate-limited implementations.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// PublishRequest carries one post to one provider target.
type PublishRequest struct {
	PostID      uuid.UUID
	WorkspaceID uuid.UUID
	Provider    enums.SocialProvider
	Caption     string
	MediaURLs   []string
}

// PublishOutcome is what a provider returns on success.
type PublishOutcome struct {
	PublishID   string
	URL         string
	PublishedAt time.Time
}

// Publisher posts content to a single social provider.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishOutcome, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, req PublishRequest) (PublishOutcome, error)

func (f PublisherFunc) Publish(ctx context.Context, req PublishRequest) (PublishOutcome, error) {
	return f(ctx, req)
}

// GenerationRequest is the input for one generation job.
type GenerationRequest struct {
	JobID       uuid.UUID
	WorkspaceID uuid.UUID
	JobType     enums.JobType
	Params      map[string]any
}

// GenerationOutput is what a generator returns on success.
type GenerationOutput struct {
	Data      map[string]any
	AssetID   *uuid.UUID
	ContentID *uuid.UUID
}

// Generator produces content for one job type.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationOutput, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (GenerationOutput, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (GenerationOutput, error) {
	return f(ctx, req)
}

// SocialSet holds exactly one publisher per supported provider.
type SocialSet struct {
	FacebookIG Publisher
	X          Publisher
	LinkedIn   Publisher
	TikTok     Publisher
}

// For resolves the publisher for a provider.
func (s SocialSet) For(provider enums.SocialProvider) (Publisher, error) {
	var p Publisher
	switch provider {
	case enums.ProviderFacebookIG:
		p = s.FacebookIG
	case enums.ProviderX:
		p = s.X
	case enums.ProviderLinkedIn:
		p = s.LinkedIn
	case enums.ProviderTikTok:
		p = s.TikTok
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
	if p == nil {
		return nil, fmt.Errorf("provider %q not configured", provider)
	}
	return p, nil
}

// GenerationSet holds exactly one generator per job type.
type GenerationSet struct {
	Text  Generator
	Image Generator
	Video Generator
	Audio Generator
}

// For resolves the generator for a job type.
func (s GenerationSet) For(jobType enums.JobType) (Generator, error) {
	var g Generator
	switch jobType {
	case enums.JobTypeText:
		g = s.Text
	case enums.JobTypeImage:
		g = s.Image
	case enums.JobTypeVideo:
		g = s.Video
	case enums.JobTypeAudio:
		g = s.Audio
	default:
		return nil, fmt.Errorf("unsupported job type %q", jobType)
	}
	if g == nil {
		return nil, fmt.Errorf("generator for %q not configured", jobType)
	}
	return g, nil
}
