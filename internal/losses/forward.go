package losses

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
)

// generate images from latents z and conditioning c (may be nil).
//
// With probability Config.StyleMixingProb the tail of the style codes, starting from a random cutoff
// in [1, numWs), is replaced by the codes of a second random latent. The second mapping doesn't
// update the mapping running average.
//
// It returns the images and the style codes ws used to generate them.
func (l *Loss) generate(ctx *context.Context, z, c *Node) (images, ws *Node) {
	genCtx := ctx.In(ModuleGenerator)
	ws = l.generator.Mapping(genCtx, z, c, false)
	numWs := ws.Shape().Dim(1)
	if l.config.StyleMixingProb > 0 && numWs > 1 {
		g := ws.Graph()
		dtype := ws.DType()
		scalarShape := shapes.Make(dtype)
		cutoff := AddScalar(Floor(MulScalar(ctx.RandomUniform(g, scalarShape), float64(numWs-1))), 1)
		mix := LessThan(ctx.RandomUniform(g, scalarShape), Scalar(g, dtype, l.config.StyleMixingProb))
		cutoff = Where(mix, cutoff, Scalar(g, dtype, float64(numWs)))
		mixedWs := l.generator.Mapping(genCtx, ctx.RandomNormal(g, z.Shape()), c, true)
		wsIndices := Iota(g, shapes.Make(dtype, 1, numWs, 1), 1)
		mask := BroadcastToDims(GreaterOrEqual(wsIndices, cutoff), ws.Shape().Dimensions...)
		ws = Where(mask, mixedWs, ws)
	}
	images = l.generator.Synthesis(genCtx, ws)
	return
}

// discriminate returns the logits for the images, shaped [batch].
// If Config.WithDataAug is set and there is an augmentation pipeline, the images are augmented first.
func (l *Loss) discriminate(ctx *context.Context, images, c *Node) *Node {
	if l.config.WithDataAug && l.augment != nil {
		images = l.augment.AugmentGraph(ctx, images)
	}
	logits := l.discriminator.Forward(ctx.In(ModuleDiscriminator), images, c)
	return Reshape(logits, images.Shape().Dim(0))
}

// softplus returns log(1+exp(x)), computed in a numerically stable way: max(x, 0) + log(1+exp(-|x|)).
func softplus(x *Node) *Node {
	return Add(Max(x, ZerosLike(x)), Log(AddScalar(Exp(Neg(Abs(x))), 1)))
}

// firstPixels returns the first channel of the first pixel of each image, shaped [batch].
// Multiplied by 0 it keeps the loss connected to the synthesis network without changing its value.
func firstPixels(images *Node) *Node {
	axes := make([]SliceAxisSpec, images.Rank())
	axes[0] = AxisRange()
	for ii := 1; ii < len(axes); ii++ {
		axes[ii] = AxisElem(0)
	}
	return Reshape(Slice(images, axes...), images.Shape().Dim(0))
}

// firstN returns the first n elements of the batch (first axis) of x, or nil if x is nil.
func firstN(x *Node, n int) *Node {
	if x == nil {
		return nil
	}
	return Slice(x, AxisRange(0, n))
}
