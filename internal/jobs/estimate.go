package jobs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

const (
	defaultImageSide     = 1024
	defaultVideoSeconds  = 5.0
	defaultAudioWords    = 100
	wordsPerAudioCredit  = 50
	videoCreditsPerSec   = 10
	largeImagePixels     = 1_000_000
	mediumImagePixels    = 500_000
	largeImageCredits    = 10
	mediumImageCredits   = 5
	smallImageCredits    = 3
	textGenerationCredit = 1
)

// EstimateCredits prices a job from its type and input parameters.
func EstimateCredits(jobType enums.JobType, params map[string]any) (int64, error) {
	switch jobType {
	case enums.JobTypeText:
		return textGenerationCredit, nil
	case enums.JobTypeImage:
		width := numberParam(params, "width", defaultImageSide)
		height := numberParam(params, "height", defaultImageSide)
		if width <= 0 || height <= 0 {
			return 0, fmt.Errorf("image dimensions must be positive")
		}
		pixels := width * height
		switch {
		case pixels > largeImagePixels:
			return largeImageCredits, nil
		case pixels > mediumImagePixels:
			return mediumImageCredits, nil
		default:
			return smallImageCredits, nil
		}
	case enums.JobTypeVideo:
		seconds := numberParam(params, "duration", defaultVideoSeconds)
		if seconds <= 0 {
			return 0, fmt.Errorf("video duration must be positive")
		}
		return int64(math.Ceil(seconds * videoCreditsPerSec)), nil
	case enums.JobTypeAudio:
		words := defaultAudioWords
		if text, ok := params["text"].(string); ok && strings.TrimSpace(text) != "" {
			words = len(strings.Fields(text))
		}
		credits := int64(math.Ceil(float64(words) / wordsPerAudioCredit))
		return max(credits, 1), nil
	default:
		return 0, fmt.Errorf("unsupported job type %q", jobType)
	}
}

// numberParam reads a numeric input that may arrive as a JSON number or string.
func numberParam(params map[string]any, key string, fallback float64) float64 {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}
