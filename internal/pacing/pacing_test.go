package pacing

import (
	"testing"

	"github.com/baseleldalil/morsel/internal/clock"
	"github.com/baseleldalil/morsel/internal/model"
)

func TestNextDelaySecondsUsesDefaultTier(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	rules := Rules{Default: &model.PacingRule{MinDelaySeconds: 8, MaxDelaySeconds: 20}}

	for i := 0; i < 50; i++ {
		d := e.NextDelaySeconds(rules)
		if d < 8 || d > 20 {
			t.Fatalf("delay %v out of configured bounds [8,20]", d)
		}
	}
}

func TestNextDelaySecondsFallsBackWithNoRules(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	for i := 0; i < 50; i++ {
		d := e.NextDelaySeconds(Rules{})
		if d < hardFallbackDelay.MinDelaySeconds || d > hardFallbackDelay.MaxDelaySeconds {
			t.Fatalf("delay %v out of hard fallback bounds", d)
		}
	}
}

func TestNextDelaySecondsPrefersAdvancedOverPerPlanOverDefault(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	rules := Rules{
		Advanced: &model.AdvancedPacingSettings{MinDelaySeconds: 100, MaxDelaySeconds: 110},
		PerPlan:  &model.PacingRule{MinDelaySeconds: 50, MaxDelaySeconds: 60},
		Default:  &model.PacingRule{MinDelaySeconds: 8, MaxDelaySeconds: 20},
	}
	for i := 0; i < 20; i++ {
		d := e.NextDelaySeconds(rules)
		if d < 100 {
			t.Fatalf("expected advanced tier to win, got delay %v", d)
		}
	}
}

func TestNextDelaySecondsManualModeRaisesMinimum(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingManual)
	rules := Rules{Default: &model.PacingRule{MinDelaySeconds: 3, MaxDelaySeconds: 5}}
	for i := 0; i < 50; i++ {
		d := e.NextDelaySeconds(rules)
		if d < 20 {
			t.Fatalf("manual mode must floor delay at 20s, got %v", d)
		}
	}
}

func TestNextBreakThresholdDisabledReturnsZero(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	rules := Rules{Advanced: &model.AdvancedPacingSettings{EnableBreaks: false}}
	if got := e.NextBreakThreshold(rules); got != 0 {
		t.Fatalf("expected 0 threshold when breaks disabled, got %d", got)
	}
}

func TestNextBreakThresholdWithinBounds(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	rules := Rules{Default: &model.PacingRule{AfterMessageCount: 30, PauseDurationMinutes: 10}}
	for i := 0; i < 20; i++ {
		got := e.NextBreakThreshold(rules)
		if got != 30 {
			t.Fatalf("expected fixed threshold 30 from Default tier, got %d", got)
		}
	}
}

func TestNextBreakDurationSecondsWithinRange(t *testing.T) {
	src := clock.NewSource(1, 1)
	e := NewEngine(src, model.TimingAuto)
	rules := Rules{Default: &model.PacingRule{AfterMessageCount: 30, PauseDurationMinutes: 10}}
	for i := 0; i < 50; i++ {
		d := e.NextBreakDurationSeconds(rules)
		if d < 30 {
			t.Fatalf("break duration must be clamped to >= 30s, got %v", d)
		}
	}
}

func TestShouldBreak(t *testing.T) {
	cases := []struct {
		sent, threshold int
		onLast          bool
		want            bool
	}{
		{sent: 5, threshold: 10, onLast: false, want: false},
		{sent: 10, threshold: 10, onLast: false, want: true},
		{sent: 15, threshold: 10, onLast: false, want: true},
		{sent: 15, threshold: 10, onLast: true, want: false},
		{sent: 5, threshold: 0, onLast: false, want: false},
	}
	for _, c := range cases {
		if got := ShouldBreak(c.sent, c.threshold, c.onLast); got != c.want {
			t.Errorf("ShouldBreak(%d, %d, %v) = %v, want %v", c.sent, c.threshold, c.onLast, got, c.want)
		}
	}
}
