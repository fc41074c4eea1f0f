package augment

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/stretchr/testify/require"
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var _ losses.AugmentationPipeline = (*Pipe)(nil)

func TestAdjust(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{ParamTarget: 0.6, ParamSpeedImages: 1.0}) // 1000 images from 0 to 1.
	pipe := New(ctx)
	require.Zero(t, pipe.Probability())

	// Discriminator overfitting: mean sign above target.
	require.InDelta(t, 0.1, pipe.Adjust(0.9, 100), 1e-6)
	require.InDelta(t, 0.2, pipe.Adjust(0.7, 100), 1e-6)

	// Below target: decreases, but never below 0.
	require.InDelta(t, 0.1, pipe.Adjust(0.1, 100), 1e-6)
	require.Zero(t, pipe.Adjust(-1, 1000))

	// Never above 1.
	pipe.SetProbability(0.95)
	require.InDelta(t, 1.0, pipe.Adjust(1, 100), 1e-6)
	require.InDelta(t, 1.0, pipe.Adjust(0.6, 100), 1e-6)
}

func TestAugmentGraph(t *testing.T) {
	ctx := context.New()
	pipe := New(ctx)
	backend := graphtest.BuildTestBackend()
	images := tensors.FromValue([][][][]float32{
		{{{1, 2}, {3, 4}}},
		{{{-1, 0}, {0.5, 0.25}}},
	})
	augment := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return pipe.AugmentGraph(ctx, images)
	})

	// p = 0: identity.
	got := augment.Call(images)[0]
	require.InDeltaSlice(t, tensors.CopyFlatData[float32](images), tensors.CopyFlatData[float32](got), 1e-5)

	// p = 1: the same compiled graph now changes the images.
	pipe.SetProbability(1)
	got = augment.Call(images)[0]
	got.Shape().AssertDims(2, 1, 2, 2)
	require.NotEqual(t, tensors.CopyFlatData[float32](images), tensors.CopyFlatData[float32](got))
}
