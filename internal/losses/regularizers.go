package losses

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"math"
)

// pathLengthMeanName is the name of the variable, under Scope, holding the running mean of the path lengths.
const pathLengthMeanName = "pl_mean"

// pathLengthMeanVar returns the running mean of the path lengths, a non-trainable scalar that starts at 0.
func pathLengthMeanVar(ctx *context.Context) *context.Variable {
	return ctx.InAbsPath("/"+Scope).VariableWithValue(pathLengthMeanName, float32(0)).SetTrainable(false)
}

// lerp returns start + ratio*(end - start).
func lerp(start, end *Node, ratio float64) *Node {
	return Add(start, MulScalar(Sub(end, start), ratio))
}

// pathLengthPenalty encourages a fixed-size step in the style codes ws to produce a fixed-magnitude
// change in the image, whatever the direction.
//
// It uses the first max(1, batch/PLBatchShrink) latents. The running mean of the path lengths is updated.
// It returns the generated images, the per-sample penalty and the per-sample loss (penalty*PLWeight).
func (l *Loss) pathLengthPenalty(ctx *context.Context, z, c *Node) (images, penalty, loss *Node) {
	batchSize := max(1, z.Shape().Dim(0)/l.config.PLBatchShrink)
	z, c = firstN(z, batchSize), firstN(c, batchSize)
	var ws *Node
	images, ws = l.generate(ctx, z, c)

	// Random image-space direction, normalized so the expected length doesn't depend on the resolution.
	height, width := images.Shape().Dim(-2), images.Shape().Dim(-1)
	noise := DivScalar(ctx.RandomNormal(images.Graph(), images.Shape()), math.Sqrt(float64(height*width)))
	wsGrads := Gradient(ReduceAllSum(Mul(images, noise)), ws)[0]
	lengths := Sqrt(ReduceMean(ReduceSum(Square(wsGrads), -1), -1))

	meanVar := pathLengthMeanVar(ctx)
	mean := ConvertDType(meanVar.ValueGraph(images.Graph()), lengths.DType())
	newMean := lerp(mean, ReduceAllMean(lengths), l.config.PLDecay)
	meanVar.SetValueGraph(ConvertDType(StopGradient(newMean), meanVar.Shape().DType))

	penalty = Square(Sub(lengths, newMean))
	loss = MulScalar(penalty, l.config.PLWeight)
	return
}

// r1Penalty is the squared norm of the gradient of the logits with respect to the images, per sample.
func r1Penalty(images, logits *Node) *Node {
	grads := Gradient(ReduceAllSum(logits), images)[0]
	axes := make([]int, 0, grads.Rank()-1)
	for axis := 1; axis < grads.Rank(); axis++ {
		axes = append(axes, axis)
	}
	return ReduceSum(Square(grads), axes...)
}
