package losses

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BlendPseudo implements the adaptive pseudo augmentation: each real image is replaced, with the
// probability of the augmentation pipeline, by the generated image at the same position of the cached
// pseudo batch.
//
// Without an augmentation pipeline, or with probability 0, realImages is returned unchanged.
// It returns an error wrapping ErrNoPseudoBatch if the probability is > 0 but no generator main pass
// has run yet, even if the random draw would have selected no sample. It returns one wrapping
// ErrPrecondition if the real and pseudo batches have different shapes.
func (l *Loss) BlendPseudo(realImages *tensors.Tensor) (*tensors.Tensor, error) {
	if l.augment == nil {
		return realImages, nil
	}
	p := l.augment.Probability()
	if p <= 0 {
		return realImages, nil
	}
	if l.pseudo == nil {
		return nil, errors.Wrapf(ErrNoPseudoBatch, "pseudo augmentation with p=%g", p)
	}
	if !realImages.Shape().Equal(l.pseudo.Shape()) {
		return nil, errors.Wrapf(ErrPrecondition, "real images shaped %s, but pseudo batch shaped %s",
			realImages.Shape(), l.pseudo.Shape())
	}
	exec := l.exec("apa", func(ctx *context.Context, inputs []*Node) []*Node {
		blended, fraction := blendGraph(ctx, inputs[0], inputs[1], inputs[2])
		return []*Node{blended, fraction}
	})
	outputs := exec.Call(realImages, l.pseudo, tensors.FromScalar(float32(p)))
	fraction := tensors.ToScalar[float32](outputs[1])
	klog.V(2).Infof("pseudo augmentation: p=%.4f, replaced %.1f%% of the real images", p, 100*fraction)
	l.report("Augment/pseudo_fraction", []float32{fraction})
	if fraction == 0 {
		return realImages, nil
	}
	return outputs[0], nil
}

// blendGraph selects, per sample, the pseudo image with probability p, or the real one otherwise.
// It returns the blended batch and the fraction of samples replaced.
func blendGraph(ctx *context.Context, realImages, pseudoImages, p *Node) (blended, fraction *Node) {
	g := realImages.Graph()
	batchSize := realImages.Shape().Dim(0)
	draws := ctx.RandomUniform(g, shapes.Make(realImages.DType(), batchSize))
	selected := LessThan(draws, ConvertDType(p, realImages.DType()))

	maskDims := make([]int, realImages.Rank())
	for ii := range maskDims {
		maskDims[ii] = 1
	}
	maskDims[0] = batchSize
	mask := BroadcastToDims(Reshape(selected, maskDims...), realImages.Shape().Dimensions...)
	blended = StopGradient(Where(mask, pseudoImages, realImages))
	fraction = ReduceAllMean(ConvertDType(selected, dtypes.Float32))
	return
}
