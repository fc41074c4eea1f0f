// Package trainer implements the outer training loop around the losses: the phase schedule with lazy
// regularization, the update of the weights with the accumulated gradients, the adjustment of the
// augmentation probability and the synthetic training data.
package trainer

import (
	"github.com/janpfeifer/apagan/internal/augment"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/janpfeifer/apagan/internal/stats"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math"
)

// signsRealName is the statistic used to adjust the augmentation probability.
const signsRealName = "Loss/signs/real"

// Trainer runs the training steps.
type Trainer struct {
	loss      *losses.Loss
	optimizer *Optimizer
	schedule  Schedule

	pipe        *augment.Pipe
	collector   *stats.Collector
	adaInterval int

	synchronize bool
	step        int
	numImages   int
}

// Option for New.
type Option func(t *Trainer)

// WithADA adjusts the probability of the augmentation pipeline every interval steps, using the mean of
// the signs of the discriminator logits on real images reported to collector.
func WithADA(pipe *augment.Pipe, collector *stats.Collector, interval int) Option {
	return func(t *Trainer) {
		t.pipe = pipe
		t.collector = collector
		t.adaInterval = max(interval, 1)
	}
}

// WithSynchronize sets whether the passes that allow it take part in the cross-replica reduction.
// Default is true.
func WithSynchronize(synchronize bool) Option {
	return func(t *Trainer) { t.synchronize = synchronize }
}

// New creates a Trainer.
func New(loss *losses.Loss, optimizer *Optimizer, schedule Schedule, options ...Option) *Trainer {
	t := &Trainer{
		loss:        loss,
		optimizer:   optimizer,
		schedule:    schedule,
		synchronize: true,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Step returns the number of steps run so far.
func (t *Trainer) Step() int { return t.step }

// NumImages returns the number of real images seen so far.
func (t *Trainer) NumImages() int { return t.numImages }

// TrainStep runs one training step: for each phase of the schedule, it accumulates the gradients of the
// phase module and updates its weights.
func (t *Trainer) TrainStep(batch *Batch) error {
	batchSize := batch.RealImages.Shape().Dim(0)
	for phaseIdx, ps := range t.schedule.Phases(t.step) {
		module := ps.Phase.Module()
		t.loss.ZeroGradients(module)
		err := t.loss.AccumulateGradients(ps.Phase, batch.RealImages, nil, batch.PhaseLatents(phaseIdx), nil,
			t.synchronize, ps.Gain)
		if err != nil {
			return errors.WithMessagef(err, "training step %d", t.step)
		}
		if _, err = t.optimizer.Apply(module); err != nil {
			return errors.WithMessagef(err, "training step %d", t.step)
		}
	}
	t.step++
	t.numImages += batchSize

	if t.pipe != nil && t.step%t.adaInterval == 0 {
		meanSign := t.collector.Mean(signsRealName)
		if !math.IsNaN(meanSign) {
			p := t.pipe.Adjust(meanSign, t.adaInterval*batchSize)
			klog.V(1).Infof("step %d: augment p=%.4f (mean real sign %.3f)", t.step, p, meanSign)
		}
		t.collector.Reset(signsRealName)
	}
	return nil
}
