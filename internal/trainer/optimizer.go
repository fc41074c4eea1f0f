package trainer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamClipNorm is the maximum global norm of the gradients applied in one update. 0 disables clipping.
const ParamClipNorm = "clip_norm"

// Optimizer applies the gradients accumulated by the loss to the parameters, with stochastic gradient
// descent.
type Optimizer struct {
	ctx          *context.Context
	backend      backends.Backend
	loss         *losses.Loss
	learningRate float64
	clipNorm     float64
	execs        map[string]*context.Exec
}

// NewOptimizer configured with the context hyperparameters optimizers.ParamLearningRate and ParamClipNorm.
func NewOptimizer(ctx *context.Context, backend backends.Backend, loss *losses.Loss) *Optimizer {
	return &Optimizer{
		ctx:          ctx.Checked(false),
		backend:      backend,
		loss:         loss,
		learningRate: context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.002),
		clipNorm:     context.GetParamOr(ctx, ParamClipNorm, 0.0),
		execs:        make(map[string]*context.Exec),
	}
}

// LearningRate used in the updates.
func (o *Optimizer) LearningRate() float64 { return o.learningRate }

// updateGraph subtracts learningRate*gradient from each parameter, and returns the norm of the gradients.
func (o *Optimizer) updateGraph(g *Graph, pairs []losses.GradientPair) *Node {
	grads := make([]*Node, len(pairs))
	var normSquared *Node
	for ii, pair := range pairs {
		grads[ii] = pair.Gradient.ValueGraph(g)
		sum := ConvertDType(ReduceAllSum(Square(grads[ii])), grads[0].DType())
		if normSquared == nil {
			normSquared = sum
		} else {
			normSquared = Add(normSquared, sum)
		}
	}
	norm := Sqrt(normSquared)
	scale := Scalar(g, norm.DType(), o.learningRate)
	if o.clipNorm > 0 {
		// Scale down so the update norm is at most clipNorm.
		clip := Scalar(g, norm.DType(), o.clipNorm)
		scale = Mul(scale, Div(clip, Max(norm, clip)))
	}
	for ii, pair := range pairs {
		param := pair.Parameter.ValueGraph(g)
		step := Mul(grads[ii], ConvertDType(scale, grads[ii].DType()))
		pair.Parameter.SetValueGraph(Sub(param, step))
	}
	return norm
}

// Apply the accumulated gradients of the module (losses.ModuleGenerator or losses.ModuleDiscriminator).
// It returns the norm of the gradients applied.
func (o *Optimizer) Apply(module string) (norm float32, err error) {
	pairs := o.loss.GradientPairs(module)
	if len(pairs) == 0 {
		return 0, errors.Errorf("no gradients accumulated for module %q", module)
	}
	err = exceptions.TryCatch[error](func() {
		exec, found := o.execs[module]
		if !found {
			exec = context.NewExec(o.backend, o.ctx, func(ctx *context.Context, g *Graph) *Node {
				return o.updateGraph(g, pairs)
			})
			o.execs[module] = exec
		}
		norm = tensors.ToScalar[float32](exec.Call()[0])
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "applying gradients of %q", module)
	}
	klog.V(2).Infof("applied %s gradients: |grad|=%.4g, lr=%g", module, norm, o.learningRate)
	return norm, nil
}
