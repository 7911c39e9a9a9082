package pricing

import (
	"errors"
	"math"
	"testing"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		total   int
		minutes int
		res     string
	}{
		{"one minute default resolution", Options{DurationMinutes: 1}, 5, 1, "720p"},
		{"rounds partial minutes up", Options{DurationMinutes: 2.1, Resolution: "720p"}, 15, 3, "720p"},
		{"1080p rate", Options{DurationMinutes: 1.5, Resolution: "1080p"}, 16, 2, "1080p"},
		{"premium voice add-on", Options{DurationMinutes: 1.5, Resolution: "720p", PremiumVoice: true}, 13, 2, "720p"},
		{"all add-ons", Options{DurationMinutes: 3, Resolution: "1080p", CustomMusic: true, PremiumVoice: true, VisualEnhancement: true}, 33, 3, "1080p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Calculate(tt.opts)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if q.Total != tt.total {
				t.Errorf("total = %d, want %d", q.Total, tt.total)
			}
			if q.DurationMinutes != tt.minutes {
				t.Errorf("minutes = %d, want %d", q.DurationMinutes, tt.minutes)
			}
			if q.Resolution != tt.res {
				t.Errorf("resolution = %q, want %q", q.Resolution, tt.res)
			}
			b := q.Breakdown
			if b.Video+b.Music+b.Voice+b.Enhancement != q.Total {
				t.Errorf("breakdown %+v does not sum to %d", b, q.Total)
			}
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	o := Options{DurationMinutes: 4.2, Resolution: "1080p", CustomMusic: true}
	a, _ := Calculate(o)
	b, _ := Calculate(o)
	if a != b {
		t.Errorf("quotes differ: %+v vs %+v", a, b)
	}
}

func TestCalculate_Invalid(t *testing.T) {
	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1), MaxDurationMinutes + 0.5, math.Exp2(61), math.MaxFloat64} {
		if _, err := Calculate(Options{DurationMinutes: d}); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("duration %v: err = %v, want ErrInvalidDuration", d, err)
		}
	}
	q, err := Calculate(Options{DurationMinutes: MaxDurationMinutes, Resolution: Resolution1080p})
	if err != nil || q.Total != MaxDurationMinutes*rate1080p {
		t.Errorf("max duration: %+v, %v", q, err)
	}
	if _, err := Calculate(Options{DurationMinutes: 1, Resolution: "4k"}); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("4k: err = %v, want ErrInvalidResolution", err)
	}
}
