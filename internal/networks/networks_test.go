package networks

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/apagan/internal/balance"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/stretchr/testify/require"
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	_ losses.Generator     = (*Generator)(nil)
	_ losses.Discriminator = (*Discriminator)(nil)
)

func TestShapes(t *testing.T) {
	ctx := NewContext()
	ctx.SetParam(ParamCDim, 3)
	gen, disc := NewGenerator(ctx), NewDiscriminator(ctx)
	backend := graphtest.BuildTestBackend()
	const batchSize = 5
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, batchSize, gen.ZDim))
		c := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, batchSize, gen.CDim))
		ws := gen.Mapping(ctx.In("generator"), z, c, false)
		images := gen.Synthesis(ctx.In("generator"), ws)
		logits := disc.Forward(ctx.In("discriminator"), images, c)
		return []*Node{ws, images, logits}
	})
	outputs[0].Shape().AssertDims(batchSize, gen.NumWs, gen.WDim)
	outputs[1].Shape().AssertDims(ImageDims(ctx, batchSize)...)
	outputs[2].Shape().AssertDims(batchSize, 1)
	for _, value := range tensors.CopyFlatData[float32](outputs[1]) {
		require.True(t, value >= -1 && value <= 1)
	}
}

func TestAverageAndTruncation(t *testing.T) {
	ctx := NewContext()
	gen := NewGenerator(ctx)
	backend := graphtest.BuildTestBackend()
	const batchSize = 3

	// Not training: the running average is not touched.
	context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, batchSize, gen.ZDim))
		return gen.Mapping(ctx.In("generator"), z, nil, false)
	})
	require.Nil(t, ctx.InspectVariable("/generator/mapping", "w_avg"))

	// Training: w_avg = lerp(mean(w), w_avg, beta), starting from 0.
	ws := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, batchSize, gen.ZDim))
		return gen.Mapping(ctx.In("generator"), z, nil, false)
	})
	wsFlat := tensors.CopyFlatData[float32](ws)
	avg := tensors.CopyFlatData[float32](ctx.InspectVariable("/generator/mapping", "w_avg").Value())
	for ii := range gen.WDim {
		var mean float64
		for example := range batchSize {
			mean += float64(wsFlat[example*gen.NumWs*gen.WDim+ii])
		}
		mean /= batchSize
		require.InDelta(t, mean*(1-gen.WAvgBeta), avg[ii], 1e-5)
	}

	// psi = 0: every latent generates the same image.
	images := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, batchSize, gen.ZDim))
		return gen.Generate(ctx.In("generator"), z, nil, 0)
	})
	flat := tensors.CopyFlatData[float32](images)
	imageSize := len(flat) / batchSize
	for example := 1; example < batchSize; example++ {
		require.InDeltaSlice(t, flat[:imageSize], flat[example*imageSize:(example+1)*imageSize], 1e-5)
	}
}

func TestTrainingStep(t *testing.T) {
	ctx := NewContext()
	losses.SetDefaultParams(ctx)
	backend := graphtest.BuildTestBackend()
	gen, disc := NewGenerator(ctx), NewDiscriminator(ctx)
	loss, err := losses.New(ctx, backend, gen, disc, balance.New(balance.DefaultStrength))
	require.NoError(t, err)

	const batchSize = 4
	latents := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, gen.ZDim))
	tensors.MutableFlatData(latents, func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii%7) - 3
		}
	})
	realImages := tensors.FromShape(shapes.Make(dtypes.Float32, ImageDims(ctx, batchSize)...))
	for _, phase := range []losses.Phase{losses.PhaseGeneratorBoth, losses.PhaseDiscriminatorBoth} {
		require.NoError(t, loss.AccumulateGradients(phase, realImages, nil, latents, nil, false, 1))
		grads := loss.Gradients(phase.Module())
		require.NotEmpty(t, grads)
		var sumAbs float64
		for _, grad := range grads {
			for _, value := range tensors.CopyFlatData[float32](grad) {
				sumAbs += float64(max(value, -value))
			}
		}
		require.Greater(t, sumAbs, 0.0, "phase %s accumulated no gradients", phase)
	}
	require.True(t, loss.State().HasPseudoBatch)
	require.Greater(t, loss.State().PathLengthMean, 0.0)
}
