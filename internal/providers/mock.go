package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

type mockPublisher struct {
	provider enums.SocialProvider
	now      func() time.Time
}

// NewMockSocialSet returns publishers that always succeed with provider-shaped ids and URLs.
func NewMockSocialSet() SocialSet {
	now := func() time.Time { return time.Now().UTC() }
	return SocialSet{
		FacebookIG: mockPublisher{provider: enums.ProviderFacebookIG, now: now},
		X:          mockPublisher{provider: enums.ProviderX, now: now},
		LinkedIn:   mockPublisher{provider: enums.ProviderLinkedIn, now: now},
		TikTok:     mockPublisher{provider: enums.ProviderTikTok, now: now},
	}
}

func (m mockPublisher) Publish(ctx context.Context, req PublishRequest) (PublishOutcome, error) {
	if err := ctx.Err(); err != nil {
		return PublishOutcome{}, err
	}
	id := mockPublishID(m.provider)
	return PublishOutcome{
		PublishID:   id,
		URL:         mockPublishURL(m.provider, id),
		PublishedAt: m.now(),
	}, nil
}

func mockPublishID(provider enums.SocialProvider) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	switch provider {
	case enums.ProviderFacebookIG:
		return "fb_" + suffix
	case enums.ProviderX:
		return "x_" + suffix
	case enums.ProviderLinkedIn:
		return "li_" + suffix
	case enums.ProviderTikTok:
		return "tt_" + suffix
	default:
		return suffix
	}
}

func mockPublishURL(provider enums.SocialProvider, id string) string {
	switch provider {
	case enums.ProviderFacebookIG:
		return fmt.Sprintf("https://facebook.com/posts/%s", id)
	case enums.ProviderX:
		return fmt.Sprintf("https://x.com/post/%s", id)
	case enums.ProviderLinkedIn:
		return fmt.Sprintf("https://linkedin.com/posts/%s", id)
	case enums.ProviderTikTok:
		return fmt.Sprintf("https://tiktok.com/@user/video/%s", id)
	default:
		return ""
	}
}

// NewMockGenerationSet returns generators that echo their input and mint an asset id.
func NewMockGenerationSet() GenerationSet {
	gen := GeneratorFunc(func(ctx context.Context, req GenerationRequest) (GenerationOutput, error) {
		if err := ctx.Err(); err != nil {
			return GenerationOutput{}, err
		}
		assetID := uuid.New()
		data := map[string]any{
			"job_type": string(req.JobType),
			"asset_id": assetID.String(),
		}
		if prompt, ok := req.Params["prompt"]; ok {
			data["prompt"] = prompt
		}
		if req.JobType == enums.JobTypeText {
			contentID := uuid.New()
			data["content_id"] = contentID.String()
			return GenerationOutput{Data: data, ContentID: &contentID}, nil
		}
		return GenerationOutput{Data: data, AssetID: &assetID}, nil
	})
	return GenerationSet{Text: gen, Image: gen, Video: gen, Audio: gen}
}
