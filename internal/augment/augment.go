// Package augment implements an augmentation pipeline for batches of images, whose strength is the
// probability p of applying each transform to each image.
//
// The probability is adjusted during training with the ADA heuristic (see Pipe.Adjust): when the
// discriminator is too confident on the real images (it overfits), p is increased, otherwise decreased.
// The same probability drives the adaptive pseudo augmentation of the losses package.
package augment

import (
	"fmt"
	"github.com/chewxy/math32"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"k8s.io/klog/v2"
	"math"
)

// Hyperparameters of the pipeline, stored in the context.
const (
	// ParamProbability is the initial probability of applying each transform.
	ParamProbability = "augment_p"

	// ParamTarget is the target value of the mean sign of the discriminator logits on real images.
	ParamTarget = "ada_target"

	// ParamSpeedImages is how many images it takes for p to go from 0 to 1 (in thousands).
	ParamSpeedImages = "ada_kimg"

	// ParamBrightnessStd and ParamContrastStd are the standard deviations of the brightness shift and of
	// the log of the contrast scale.
	ParamBrightnessStd = "augment_brightness_std"
	ParamContrastStd   = "augment_contrast_std"
)

// Scope of the pipeline variables in the context.
const Scope = "augment"

// Pipe is the augmentation pipeline. Probability is kept on the host, and mirrored in a context variable
// so changing it doesn't require recompiling the graphs.
type Pipe struct {
	ctx *context.Context
	p   float32

	target, speedImages        float32
	brightnessStd, contrastStd float64
}

// New creates a pipeline configured from the context hyperparameters. Its variables are stored in ctx,
// which must be the same context used by the graphs calling AugmentGraph.
func New(ctx *context.Context) *Pipe {
	pipe := &Pipe{
		ctx:           ctx.InAbsPath("/" + Scope).Checked(false),
		p:             float32(context.GetParamOr(ctx, ParamProbability, 0.0)),
		target:        float32(context.GetParamOr(ctx, ParamTarget, 0.6)),
		speedImages:   float32(context.GetParamOr(ctx, ParamSpeedImages, 500.0)) * 1000,
		brightnessStd: context.GetParamOr(ctx, ParamBrightnessStd, 0.2),
		contrastStd:   context.GetParamOr(ctx, ParamContrastStd, 0.5*math.Ln2),
	}
	pipe.SetProbability(float64(pipe.p))
	return pipe
}

// String implements fmt.Stringer.
func (pipe *Pipe) String() string {
	return fmt.Sprintf("augment.Pipe(p=%.4f, target=%.2f)", pipe.p, pipe.target)
}

// Probability implements losses.AugmentationPipeline.
func (pipe *Pipe) Probability() float64 {
	return float64(pipe.p)
}

// SetProbability changes the probability of applying the transforms, clamped to [0, 1].
func (pipe *Pipe) SetProbability(p float64) {
	pipe.p = math32.Min(math32.Max(float32(p), 0), 1)
	pipe.probabilityVar().SetValue(tensors.FromScalar(pipe.p))
}

// Adjust the probability with the ADA heuristic, given the mean of the signs of the discriminator
// logits on the real images of the last numImages images. It returns the new probability.
//
// p moves by numImages/speedImages towards the direction that brings the mean sign to the target.
func (pipe *Pipe) Adjust(meanSign float64, numImages int) float64 {
	if math32.IsNaN(float32(meanSign)) {
		klog.Warningf("augment.Pipe.Adjust(): mean sign is NaN, probability unchanged")
		return float64(pipe.p)
	}
	step := math32.Copysign(float32(numImages)/pipe.speedImages, float32(meanSign)-pipe.target)
	if float32(meanSign) == pipe.target {
		step = 0
	}
	previous := pipe.p
	pipe.SetProbability(float64(pipe.p + step))
	klog.V(2).Infof("augment p: %.4f -> %.4f (mean sign %.3f, target %.2f)", previous, pipe.p, meanSign, pipe.target)
	return float64(pipe.p)
}

// probabilityVar returns the context variable holding p.
func (pipe *Pipe) probabilityVar() *context.Variable {
	return pipe.ctx.VariableWithValue("p", float32(0)).SetTrainable(false)
}

// AugmentGraph implements losses.AugmentationPipeline: each transform (horizontal flip, brightness and
// contrast) is applied to each image independently with probability p.
//
// images are shaped [batch, channels, height, width].
func (pipe *Pipe) AugmentGraph(ctx *context.Context, images *Node) *Node {
	g := images.Graph()
	dtype := images.DType()
	batchSize := images.Shape().Dim(0)
	p := ConvertDType(pipe.probabilityVar().ValueGraph(g), dtype)
	perImage := shapes.Make(dtype, batchSize, 1, 1, 1)
	ctx = ctx.InAbsPath("/" + Scope)

	// apply returns a [batch, 1, 1, 1] mask selecting each image with probability p.
	apply := func() *Node {
		return LessThan(ctx.RandomUniform(g, perImage), p)
	}
	dims := images.Shape().Dimensions

	flipped := Reverse(images, 3)
	images = Where(BroadcastToDims(apply(), dims...), flipped, images)

	shift := Mul(MulScalar(ctx.RandomNormal(g, perImage), pipe.brightnessStd), ConvertDType(apply(), dtype))
	images = Add(images, shift)

	mean := ReduceAndKeep(images, ReduceMean, 1, 2, 3)
	logScale := Mul(MulScalar(ctx.RandomNormal(g, perImage), pipe.contrastStd), ConvertDType(apply(), dtype))
	images = Add(Mul(Sub(images, mean), Exp(logScale)), mean)
	return images
}
