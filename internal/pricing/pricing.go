// Package pricing computes the credit cost of a generation request. The same
// function backs the cost preview and the charge taken at submission.
package pricing

import (
	"errors"
	"math"
)

const (
	Resolution720p  = "720p"
	Resolution1080p = "1080p"

	rate720p          = 5
	rate1080p         = 8
	customMusicCost   = 2
	premiumVoiceCost  = 3
	enhancementCost   = 4
	DefaultResolution = Resolution720p

	// MaxDurationMinutes is the longest video that can be priced.
	MaxDurationMinutes = 180
)

var (
	ErrInvalidDuration   = errors.New("duration must be positive and at most 180 minutes")
	ErrInvalidResolution = errors.New("resolution must be 720p or 1080p")
)

type Options struct {
	DurationMinutes   float64 `json:"duration_minutes"`
	Resolution        string  `json:"resolution"`
	CustomMusic       bool    `json:"custom_music"`
	PremiumVoice      bool    `json:"premium_voice"`
	VisualEnhancement bool    `json:"visual_enhancement"`
}

type Breakdown struct {
	Video       int `json:"video"`
	Music       int `json:"music"`
	Voice       int `json:"voice"`
	Enhancement int `json:"enhancement"`
}

type Quote struct {
	Breakdown       Breakdown `json:"breakdown"`
	Total           int       `json:"total"`
	DurationMinutes int       `json:"duration_minutes"`
	Resolution      string    `json:"resolution"`
}

// Calculate prices a request. Duration is rounded up to whole minutes; add-ons
// are flat per request.
func Calculate(o Options) (Quote, error) {
	if math.IsNaN(o.DurationMinutes) || o.DurationMinutes <= 0 || o.DurationMinutes > MaxDurationMinutes {
		return Quote{}, ErrInvalidDuration
	}
	res := o.Resolution
	if res == "" {
		res = DefaultResolution
	}
	var rate int
	switch res {
	case Resolution720p:
		rate = rate720p
	case Resolution1080p:
		rate = rate1080p
	default:
		return Quote{}, ErrInvalidResolution
	}

	minutes := int(math.Ceil(o.DurationMinutes))
	b := Breakdown{Video: rate * minutes}
	if o.CustomMusic {
		b.Music = customMusicCost
	}
	if o.PremiumVoice {
		b.Voice = premiumVoiceCost
	}
	if o.VisualEnhancement {
		b.Enhancement = enhancementCost
	}
	return Quote{
		Breakdown:       b,
		Total:           b.Video + b.Music + b.Voice + b.Enhancement,
		DurationMinutes: minutes,
		Resolution:      res,
	}, nil
}
