package enums

// PostStatus is the lifecycle state of a scheduled post.
type PostStatus string

const (
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
	PostStatusFailed     PostStatus = "failed"
	PostStatusCancelled  PostStatus = "cancelled"
)

var postStatuses = closed[PostStatus]{PostStatusScheduled, PostStatusPublishing, PostStatusPublished, PostStatusFailed, PostStatusCancelled}

// IsTerminal reports whether the post has been settled.
func (s PostStatus) IsTerminal() bool {
	return s == PostStatusPublished || s == PostStatusFailed || s == PostStatusCancelled
}

func ParsePostStatus(value string) (PostStatus, error) {
	return postStatuses.parse("post status", value)
}

// SocialProvider identifies a publish target.
type SocialProvider string

const (
	ProviderFacebookIG SocialProvider = "facebook_ig"
	ProviderX          SocialProvider = "x"
	ProviderLinkedIn   SocialProvider = "linkedin"
	ProviderTikTok     SocialProvider = "tiktok"
)

var socialProviders = closed[SocialProvider]{ProviderFacebookIG, ProviderX, ProviderLinkedIn, ProviderTikTok}

func (p SocialProvider) IsValid() bool { return socialProviders.has(p) }

func ParseSocialProvider(value string) (SocialProvider, error) {
	return socialProviders.parse("social provider", value)
}
