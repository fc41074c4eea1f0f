package trainer

import (
	"context"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/apagan/internal/augment"
	"github.com/janpfeifer/apagan/internal/balance"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/janpfeifer/apagan/internal/networks"
	"github.com/janpfeifer/apagan/internal/stats"
	"github.com/stretchr/testify/require"
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestSchedule(t *testing.T) {
	s := Schedule{GRegInterval: 4, DRegInterval: 16}
	require.Equal(t, []PhaseStep{
		{losses.PhaseGeneratorMain, 1},
		{losses.PhaseGeneratorRegularize, 4},
		{losses.PhaseDiscriminatorMain, 1},
		{losses.PhaseDiscriminatorRegularize, 16},
	}, s.Phases(0))
	require.Equal(t, []PhaseStep{
		{losses.PhaseGeneratorMain, 1},
		{losses.PhaseDiscriminatorMain, 1},
	}, s.Phases(1))
	require.Equal(t, []PhaseStep{
		{losses.PhaseGeneratorMain, 1},
		{losses.PhaseGeneratorRegularize, 4},
		{losses.PhaseDiscriminatorMain, 1},
	}, s.Phases(4))

	s = Schedule{GRegInterval: 0, DRegInterval: 1}
	require.Equal(t, []PhaseStep{
		{losses.PhaseGeneratorBoth, 1},
		{losses.PhaseDiscriminatorBoth, 1},
	}, s.Phases(3))
	require.Equal(t, "Gboth,Dboth | Gboth,Dboth", s.Describe(2))
	require.Equal(t, "Gmain,Greg(x4),Dmain,Dreg(x16) | Gmain,Dmain", DefaultSchedule().Describe(2))
}

func TestSyntheticBatches(t *testing.T) {
	s := &Synthetic{BatchSize: 3, Channels: 2, Size: 4, ZDim: 5, NumLatents: 2, Seed: 7}
	b0 := s.Batch(0)
	b0.RealImages.Shape().AssertDims(3, 2, 4, 4)
	require.Len(t, b0.Latents, 2)
	b0.PhaseLatents(3).Shape().AssertDims(3, 5)
	for _, value := range tensors.CopyFlatData[float32](b0.RealImages) {
		require.True(t, value >= -1 && value <= 1)
	}
	require.Equal(t, tensors.CopyFlatData[float32](b0.RealImages), tensors.CopyFlatData[float32](s.Batch(0).RealImages))
	require.NotEqual(t, tensors.CopyFlatData[float32](b0.RealImages), tensors.CopyFlatData[float32](s.Batch(1).RealImages))

	batches, wait := s.Prefetch(context.Background(), 5, 10, 4)
	var indices []int
	for batch := range batches {
		indices = append(indices, batch.Index)
	}
	require.NoError(t, wait())
	require.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, indices)

	ctx, cancel := context.WithCancel(context.Background())
	batches, wait = s.Prefetch(ctx, 0, 1000, 2)
	<-batches
	cancel()
	for range batches {
	}
	require.Error(t, wait())
}

func newTestTrainer(t *testing.T, options ...Option) (*Trainer, *Synthetic, *losses.Loss) {
	ctx := networks.NewContext()
	ctx.SetParam(optimizers.ParamLearningRate, 0.01)
	losses.SetDefaultParams(ctx)
	backend := graphtest.BuildTestBackend()
	gen, disc := networks.NewGenerator(ctx), networks.NewDiscriminator(ctx)
	collector := stats.NewCollector()
	pipe := augment.New(ctx)
	loss, err := losses.New(ctx, backend, gen, disc, balance.New(balance.DefaultStrength),
		losses.WithStatistics(collector), losses.WithAugmentPipe(pipe))
	require.NoError(t, err)
	options = append([]Option{WithADA(pipe, collector, 1)}, options...)
	trainer := New(loss, NewOptimizer(ctx, backend, loss), Schedule{GRegInterval: 2, DRegInterval: 2}, options...)
	data := &Synthetic{BatchSize: 4, Channels: gen.Channels, Size: gen.Size, ZDim: gen.ZDim, NumLatents: 4, Seed: 1}
	return trainer, data, loss
}

func TestOptimizerApply(t *testing.T) {
	trainer, data, loss := newTestTrainer(t)
	_, err := trainer.optimizer.Apply(losses.ModuleDiscriminator)
	require.Error(t, err, "no gradients accumulated yet")

	batch := data.Batch(0)
	require.NoError(t, loss.AccumulateGradients(losses.PhaseDiscriminatorMain, batch.RealImages, nil, batch.Latents[0], nil, false, 1))
	pairs := loss.GradientPairs(losses.ModuleDiscriminator)
	require.NotEmpty(t, pairs)
	before := make([][]float32, len(pairs))
	grads := make([][]float32, len(pairs))
	for ii, pair := range pairs {
		before[ii] = tensors.CopyFlatData[float32](pair.Parameter.Value())
		grads[ii] = tensors.CopyFlatData[float32](pair.Gradient.Value())
	}
	norm, err := trainer.optimizer.Apply(losses.ModuleDiscriminator)
	require.NoError(t, err)
	require.Greater(t, norm, float32(0))
	lr := float32(trainer.optimizer.LearningRate())
	for ii, pair := range pairs {
		after := tensors.CopyFlatData[float32](pair.Parameter.Value())
		for jj := range after {
			require.InDelta(t, before[ii][jj]-lr*grads[ii][jj], after[jj], 1e-5)
		}
	}
}

func TestTrainStep(t *testing.T) {
	trainer, data, loss := newTestTrainer(t)
	for step := range 3 {
		require.NoError(t, trainer.TrainStep(data.Batch(step)))
	}
	require.Equal(t, 3, trainer.Step())
	require.Equal(t, 12, trainer.NumImages())
	state := loss.State()
	require.True(t, state.HasPseudoBatch)
	require.Greater(t, state.PathLengthMean, 0.0)
	require.InDelta(t, 2*balance.InitialScore, state.GeneratorScore+state.DiscriminatorScore, 1e-6)

	// The ADA adjustment consumes the real signs every step.
	_, found := trainer.collector.Get(signsRealName)
	require.False(t, found)
}
