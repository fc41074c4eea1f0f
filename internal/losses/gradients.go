package losses

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"k8s.io/klog/v2"
	"slices"
	"strings"
)

// GradientPair associates a trainable variable with the variable holding its accumulated gradient.
type GradientPair struct {
	Parameter, Gradient *context.Variable
}

// trainableVariables of a module, sorted by their scope and name, so the order is stable across graphs.
func trainableVariables(ctx *context.Context, module string) []*context.Variable {
	var vars []*context.Variable
	ctx.InAbsPath("/" + module).EnumerateVariablesInScope(func(v *context.Variable) {
		if v.Trainable {
			vars = append(vars, v)
		}
	})
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		return strings.Compare(a.ScopeAndName(), b.ScopeAndName())
	})
	return vars
}

// moduleGradients returns the gradients of the scalar loss with respect to each of the trainable
// variables of the module, in the order given by trainableVariables.
func moduleGradients(ctx *context.Context, module string, loss *Node) []*Node {
	g := loss.Graph()
	vars := trainableVariables(ctx, module)
	if len(vars) == 0 {
		exceptions.Panicf("module %q has no trainable variables: was its forward pass built?", module)
	}
	varNodes := make([]*Node, len(vars))
	for ii, v := range vars {
		varNodes[ii] = v.ValueGraph(g)
	}
	return Gradient(loss, varNodes...)
}

// accumulatorFor returns the variable that accumulates the gradient of v.
func accumulatorFor(ctx *context.Context, v *context.Variable) *context.Variable {
	return ctx.InAbsPath("/"+GradientsScope+v.Scope()).
		VariableWithValue(v.Name(), tensors.FromShape(v.Shape())).
		SetTrainable(false)
}

// accumulateGraph adds factor*grad to the accumulators of the trainable variables of module.
// The inputs are the scalar factor followed by the gradients, in the order of trainableVariables.
// It returns the norm of the scaled gradients added.
func (l *Loss) accumulateGraph(ctx *context.Context, module string, inputs []*Node) *Node {
	factor, grads := inputs[0], inputs[1:]
	g := factor.Graph()
	vars := trainableVariables(ctx, module)
	if len(vars) != len(grads) {
		exceptions.Panicf("module %q has %d trainable variables, but %d gradients were given", module, len(vars), len(grads))
	}
	pairs := make([]GradientPair, len(vars))
	normSquared := ScalarZero(g, factor.DType())
	for ii, v := range vars {
		acc := accumulatorFor(ctx, v)
		pairs[ii] = GradientPair{Parameter: v, Gradient: acc}
		scaled := Mul(grads[ii], ConvertDType(factor, grads[ii].DType()))
		acc.SetValueGraph(Add(acc.ValueGraph(g), scaled))
		normSquared = Add(normSquared, ConvertDType(ReduceAllSum(Square(scaled)), factor.DType()))
	}
	l.gradientPairs[module] = pairs
	return Sqrt(normSquared)
}

// accumulate the gradients of a loss term into its module accumulators.
func (l *Loss) accumulate(term *lossTerm) {
	exec := l.accumulateExecs[term.module]
	if exec == nil {
		module := term.module
		exec = context.NewExec(l.backend, l.ctx, func(ctx *context.Context, inputs []*Node) *Node {
			return l.accumulateGraph(ctx, module, inputs)
		})
		l.accumulateExecs[module] = exec
	}
	args := make([]any, 0, 1+len(term.grads))
	args = append(args, tensors.FromScalar(float32(term.factor)))
	for _, grad := range term.grads {
		args = append(args, grad)
	}
	norm := tensors.ToScalar[float32](exec.Call(args...)[0])
	term.grads = nil // Each term is accumulated exactly once.
	klog.V(2).Infof("accumulated %s into %s: factor=%.4g, |grad|=%.4g", term.name, term.module, term.factor, norm)
	l.report("Gradients/"+term.module+"/norm", []float32{norm})
}

// ZeroGradients resets the accumulated gradients of the module (ModuleGenerator or ModuleDiscriminator).
//
// It must be called by the training loop between steps, never between the phases of the same step.
func (l *Loss) ZeroGradients(module string) {
	for _, pair := range l.gradientPairs[module] {
		pair.Gradient.SetValue(tensors.FromShape(pair.Gradient.Shape()))
	}
}

// GradientPairs returns the trainable variables of the module paired with their accumulated gradients.
//
// It is empty until gradients have been accumulated once for the module.
func (l *Loss) GradientPairs(module string) []GradientPair {
	return l.gradientPairs[module]
}

// Gradients returns the accumulated gradients of the module, indexed by the scope and name of the
// trainable variable.
func (l *Loss) Gradients(module string) map[string]*tensors.Tensor {
	grads := make(map[string]*tensors.Tensor, len(l.gradientPairs[module]))
	for _, pair := range l.gradientPairs[module] {
		grads[pair.Parameter.ScopeAndName()] = pair.Gradient.Value()
	}
	return grads
}
