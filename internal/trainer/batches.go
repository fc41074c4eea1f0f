package trainer

import (
	"context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"math"
	"math/rand/v2"
)

// Batch of training data.
type Batch struct {
	Index int

	// RealImages shaped [batchSize, channels, height, width] with values in [-1, 1].
	RealImages *tensors.Tensor

	// Latents to use in each phase of the step, each shaped [batchSize, zDim].
	Latents []*tensors.Tensor
}

// PhaseLatents returns the latents for the phase number phaseIdx of the step.
func (b *Batch) PhaseLatents(phaseIdx int) *tensors.Tensor {
	return b.Latents[phaseIdx%len(b.Latents)]
}

// Synthetic generates batches of "real" images made of one gaussian blob each, with random center,
// width and intensity. Batches are deterministic given the seed and index.
type Synthetic struct {
	BatchSize            int
	Channels, Size, ZDim int
	NumLatents           int
	Seed                 uint64
}

// Batch returns the batch with the given index.
func (s *Synthetic) Batch(index int) *Batch {
	rng := rand.New(rand.NewPCG(s.Seed, uint64(index)))
	batch := &Batch{
		Index:      index,
		RealImages: tensors.FromShape(shapes.Make(dtypes.Float32, s.BatchSize, s.Channels, s.Size, s.Size)),
		Latents:    make([]*tensors.Tensor, max(s.NumLatents, 1)),
	}
	tensors.MutableFlatData(batch.RealImages, func(flat []float32) {
		pixels := s.Size * s.Size
		for example := range s.BatchSize {
			centerX, centerY := rng.Float64()*float64(s.Size), rng.Float64()*float64(s.Size)
			sigma := (0.1 + 0.2*rng.Float64()) * float64(s.Size)
			for channel := range s.Channels {
				intensity := 0.5 + 0.5*rng.Float64()
				offset := (example*s.Channels + channel) * pixels
				for y := range s.Size {
					for x := range s.Size {
						dx, dy := float64(x)-centerX, float64(y)-centerY
						value := intensity * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
						flat[offset+y*s.Size+x] = float32(2*value - 1)
					}
				}
			}
		}
	})
	for ii := range batch.Latents {
		batch.Latents[ii] = tensors.FromShape(shapes.Make(dtypes.Float32, s.BatchSize, s.ZDim))
		tensors.MutableFlatData(batch.Latents[ii], func(flat []float32) {
			for jj := range flat {
				flat[jj] = float32(rng.NormFloat64())
			}
		})
	}
	return batch
}

// Prefetch generates count batches, starting at index first, using up to parallelism goroutines.
// Batches are delivered in order on the returned channel, which is closed at the end or when ctx is
// cancelled. The caller must drain the channel or cancel ctx. wait returns the first error, if any.
func (s *Synthetic) Prefetch(ctx context.Context, first, count, parallelism int) (batches <-chan *Batch, wait func() error) {
	if parallelism < 1 {
		parallelism = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	output := make(chan *Batch, parallelism)
	pending := make(chan chan *Batch, parallelism)

	// Producer: one goroutine per batch, at most parallelism at a time.
	producers := &errgroup.Group{}
	producers.SetLimit(parallelism)
	g.Go(func() error {
		defer close(pending)
		for index := first; index < first+count; index++ {
			result := make(chan *Batch, 1)
			select {
			case pending <- result:
			case <-ctx.Done():
				return nil
			}
			producers.Go(func() error {
				result <- s.Batch(index)
				return nil
			})
		}
		return producers.Wait()
	})

	// Forwarder: keeps the order of the batches.
	g.Go(func() error {
		defer close(output)
		for result := range pending {
			select {
			case batch := <-result:
				select {
				case output <- batch:
				case <-ctx.Done():
					return errors.Wrapf(ctx.Err(), "prefetching batches")
				}
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "prefetching batches")
			}
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "prefetching batches")
		}
		return nil
	})
	return output, g.Wait
}
