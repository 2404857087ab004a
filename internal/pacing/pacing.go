// Package pacing implements the Pacing Engine: it emits the next
// per-message delay and break decisions from rule tables. It performs no
// I/O and never fails — a missing tier just falls through to the next
// one, so the executor never needs to special-case pacing errors.
package pacing

import (
	"github.com/baseleldalil/morsel/internal/clock"
	"github.com/baseleldalil/morsel/internal/model"
)

// hardFallbackDelay and hardFallbackBreak are the last-resort rules when no
// tier above them applies.
var hardFallbackDelay = model.PacingRule{MinDelaySeconds: 1, MaxDelaySeconds: 3}
var hardFallbackBreak = struct {
	minMsgs, maxMsgs     int
	minMinutes, maxMinutes float64
}{minMsgs: 8, maxMsgs: 15, minMinutes: 5, maxMinutes: 15}

// Rules bundles the three tiers of pacing configuration consulted in
// priority order: user-advanced > per-plan > global default.
type Rules struct {
	Advanced *model.AdvancedPacingSettings
	PerPlan  *model.PacingRule
	Default  *model.PacingRule
}

// Engine draws delay and break decisions for one executor. Each executor
// owns its own Engine (and its own clock.Source) so fleets of concurrent
// campaigns never draw synchronized sequences.
type Engine struct {
	src  *clock.Source
	mode model.TimingMode
}

// NewEngine constructs an Engine drawing from src in the given timing mode.
func NewEngine(src *clock.Source, mode model.TimingMode) *Engine {
	return &Engine{src: src, mode: mode}
}

// resolveDelayBounds applies the tier priority for the delay rule.
func (e *Engine) resolveDelayBounds(r Rules) (min, max float64, strongRandom bool) {
	if r.Advanced != nil && r.Advanced.MinDelaySeconds > 0 {
		return r.Advanced.MinDelaySeconds, r.Advanced.MaxDelaySeconds, r.Advanced.UseDecimalRandom
	}
	if r.PerPlan != nil && r.PerPlan.MaxDelaySeconds > 0 {
		return r.PerPlan.MinDelaySeconds, r.PerPlan.MaxDelaySeconds, false
	}
	if r.Default != nil && r.Default.MaxDelaySeconds > 0 {
		return r.Default.MinDelaySeconds, r.Default.MaxDelaySeconds, false
	}
	return hardFallbackDelay.MinDelaySeconds, hardFallbackDelay.MaxDelaySeconds, false
}

// NextDelaySeconds draws the per-message delay. Manual mode disallows
// min < 20 (silently raised to 20, since pacing never fails).
func (e *Engine) NextDelaySeconds(r Rules) float64 {
	min, max, strong := e.resolveDelayBounds(r)
	if e.mode == model.TimingManual && min < 20 {
		min = 20
		if max < min {
			max = min
		}
	}
	base := e.src.UniformFloat(min, max)
	if strong {
		base += e.src.UniformFloat(0.1, 1.0)
		base += float64(e.src.UniformInt(-2, 3))
	}
	if base < 1 {
		base = 1
	}
	return base
}

// breakBounds applies the tier priority for break-cadence configuration.
func (e *Engine) breakBounds(r Rules) (minMsgs, maxMsgs int, minMinutes, maxMinutes float64, enabled bool) {
	if r.Advanced != nil {
		if !r.Advanced.EnableBreaks {
			return 0, 0, 0, 0, false
		}
		if r.Advanced.MaxMessagesBreak > 0 {
			return r.Advanced.MinMessagesBreak, r.Advanced.MaxMessagesBreak,
				r.Advanced.MinBreakMinutes, r.Advanced.MaxBreakMinutes, true
		}
	}
	if r.PerPlan != nil && r.PerPlan.AfterMessageCount > 0 {
		return r.PerPlan.AfterMessageCount, r.PerPlan.AfterMessageCount,
			r.PerPlan.PauseDurationMinutes, r.PerPlan.PauseDurationMinutes, true
	}
	if r.Default != nil && r.Default.AfterMessageCount > 0 {
		return r.Default.AfterMessageCount, r.Default.AfterMessageCount,
			r.Default.PauseDurationMinutes, r.Default.PauseDurationMinutes, true
	}
	return hardFallbackBreak.minMsgs, hardFallbackBreak.maxMsgs,
		hardFallbackBreak.minMinutes, hardFallbackBreak.maxMinutes, true
}

// NextBreakThreshold re-draws the message count after which the next
// break is taken, from Uniform[min,max] rather than a fixed modulus, so
// concurrent campaigns never synchronize their break cadence. Returns 0
// (never break) if breaks are disabled for this rule tier.
func (e *Engine) NextBreakThreshold(r Rules) int {
	minMsgs, maxMsgs, _, _, enabled := e.breakBounds(r)
	if !enabled {
		return 0
	}
	return e.src.UniformInt(minMsgs, maxMsgs)
}

// NextBreakDurationSeconds draws the break duration: Uniform[min,max]
// minutes ± 10%-to-+15% jitter plus [0,30]s, clamped to >= 30s.
func (e *Engine) NextBreakDurationSeconds(r Rules) float64 {
	_, _, minMinutes, maxMinutes, enabled := e.breakBounds(r)
	if !enabled {
		return 0
	}
	base := e.src.UniformFloat(minMinutes, maxMinutes) * 60
	jitterFactor := e.src.UniformFloat(0.90, 1.15)
	base *= jitterFactor
	base += e.src.UniformFloat(0, 30)
	if base < 30 {
		base = 30
	}
	return base
}

// ShouldBreak reports whether sentSinceLastBreak has reached threshold and
// a break must be taken. A break is never scheduled when onLastEntry is
// true — there is nothing left to pace for.
func ShouldBreak(sentSinceLastBreak, threshold int, onLastEntry bool) bool {
	if threshold <= 0 || onLastEntry {
		return false
	}
	return sentSinceLastBreak >= threshold
}
