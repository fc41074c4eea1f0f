// Package balance implements the ScoreBalancer: an Elo-like pair of running scores, one for the generator
// and one for the discriminator, that measures which of the two networks is currently winning.
//
// The ratio of the scores (generator over discriminator) is used to scale the discriminator losses, so
// a dominating discriminator gets its gradients damped, while a lagging one gets them amplified.
//
// Each update transfers points from one score to the other (the sum is invariant), in the amount the
// observed discriminator belief deviates from what the current scores predict, times the rebalance
// strength K.
package balance

import (
	"fmt"
	"k8s.io/klog/v2"
)

// InitialScore for both the generator and the discriminator.
const InitialScore = 500.0

// DefaultStrength is the default rebalance strength K.
const DefaultStrength = 100.0

// ScoreBalancer tracks the generator and discriminator scores.
//
// It is created once per training run and mutated in place by every training step.
// It is not safe for concurrent use.
type ScoreBalancer struct {
	generator, discriminator float64

	// k is the rebalance strength: how many points are transferred per unit of deviation.
	k float64

	// minScore, if > 0, bounds both scores from below.
	minScore float64
}

// Option configures a ScoreBalancer.
type Option func(b *ScoreBalancer)

// WithMinScore bounds both scores from below by minScore, while preserving their sum.
//
// This deviates from the reference behavior, where the scores drift without bounds over long runs and
// may eventually become negative (and the scaling factor meaningless). A minScore <= 0 disables the bound.
func WithMinScore(minScore float64) Option {
	return func(b *ScoreBalancer) {
		b.minScore = minScore
	}
}

// New creates a ScoreBalancer with both scores set to InitialScore and rebalance strength k.
func New(k float64, options ...Option) *ScoreBalancer {
	b := &ScoreBalancer{k: k}
	for _, option := range options {
		option(b)
	}
	b.Reset()
	return b
}

// Reset both scores to InitialScore.
func (b *ScoreBalancer) Reset() {
	b.generator = InitialScore
	b.discriminator = InitialScore
}

// Strength returns the rebalance strength K.
func (b *ScoreBalancer) Strength() float64 {
	return b.k
}

// Scores returns the current generator and discriminator scores.
func (b *ScoreBalancer) Scores() (generator, discriminator float64) {
	return b.generator, b.discriminator
}

// Total returns the sum of the scores, which is invariant across updates.
func (b *ScoreBalancer) Total() float64 {
	return b.generator + b.discriminator
}

// ScalingFactor returns generatorScore / discriminatorScore.
//
// It is used to scale the discriminator losses before backpropagation. It doesn't change the state.
func (b *ScoreBalancer) ScalingFactor() float64 {
	return b.generator / b.discriminator
}

// Expected returns the mean probability the current scores predict: (generatorScore/discriminatorScore)/2.
func (b *ScoreBalancer) Expected() float64 {
	return b.ScalingFactor() / 2
}

// Update the scores with a batch of probabilities in [0, 1] -- the sigmoid of the discriminator logits,
// framed by the caller.
//
// The observed mean is compared with Expected, and delta=expected-observed times K is moved from the
// generator score to the discriminator score (a negative delta moves points the other way).
// An empty batch is a no-op.
func (b *ScoreBalancer) Update(probabilities []float32) {
	if len(probabilities) == 0 {
		return
	}
	var sum float64
	for _, p := range probabilities {
		sum += float64(p)
	}
	observed := sum / float64(len(probabilities))
	expected := b.Expected()
	delta := expected - observed
	transfer := delta * b.k
	b.generator -= transfer
	b.discriminator += transfer
	b.bound()
	if klog.V(2).Enabled() {
		klog.Infof("ScoreBalancer: observed=%.4f, expected=%.4f, delta=%.4f, transfer=%.3f -> %s",
			observed, expected, delta, transfer, b)
	}
}

// bound applies the optional minimum score, keeping the total.
func (b *ScoreBalancer) bound() {
	if b.minScore <= 0 {
		return
	}
	total := b.generator + b.discriminator
	if b.generator < b.minScore {
		b.generator = b.minScore
		b.discriminator = total - b.minScore
	} else if b.discriminator < b.minScore {
		b.discriminator = b.minScore
		b.generator = total - b.minScore
	}
}

// String implements fmt.Stringer.
func (b *ScoreBalancer) String() string {
	return fmt.Sprintf("G=%.3f, D=%.3f, scaling=%.4f", b.generator, b.discriminator, b.ScalingFactor())
}
