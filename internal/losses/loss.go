package losses

import (
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/apagan/internal/balance"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Loss computes the adversarial losses of one training step and accumulates their gradients.
//
// It owns the state that persists across steps: the path length running mean (a context variable),
// the cached pseudo batch (the fake images of the last generator main pass) and, by reference, the
// ScoreBalancer.
//
// It is not safe for concurrent use.
type Loss struct {
	ctx           *context.Context
	backend       backends.Backend
	generator     Generator
	discriminator Discriminator
	balancer      *balance.ScoreBalancer
	augment       AugmentationPipeline
	sync          SynchronizationScope
	stats         StatisticsSink
	config        Config

	// pseudo is the detached batch of fake images of the last generator main pass.
	pseudo *tensors.Tensor

	execs           map[string]*context.Exec
	accumulateExecs map[string]*context.Exec
	gradientPairs   map[string][]GradientPair
}

// Option for New.
type Option func(l *Loss)

// WithAugmentPipe configures the augmentation pipeline: its probability drives the adaptive pseudo
// augmentation of the real images, and its transforms are applied before the discriminator if
// ParamWithDataAug is set.
func WithAugmentPipe(augment AugmentationPipeline) Option {
	return func(l *Loss) { l.augment = augment }
}

// WithSyncScope configures the cross-replica synchronization scope. The default never synchronizes.
func WithSyncScope(sync SynchronizationScope) Option {
	return func(l *Loss) { l.sync = sync }
}

// WithStatistics configures where diagnostics are reported. The default discards them.
func WithStatistics(stats StatisticsSink) Option {
	return func(l *Loss) { l.stats = stats }
}

// New creates the Loss for the generator and discriminator, whose variables live in ctx under the
// ModuleGenerator and ModuleDiscriminator scopes. The hyperparameters are read from ctx (see Param* constants).
func New(ctx *context.Context, backend backends.Backend, generator Generator, discriminator Discriminator,
	balancer *balance.ScoreBalancer, options ...Option) (*Loss, error) {
	config := ConfigFromContext(ctx)
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "losses.New()")
	}
	if generator == nil || discriminator == nil || balancer == nil {
		return nil, errors.Errorf("losses.New() requires a generator, a discriminator and a balancer")
	}
	l := &Loss{
		ctx:             ctx.Checked(false),
		backend:         backend,
		generator:       generator,
		discriminator:   discriminator,
		balancer:        balancer,
		config:          config,
		execs:           make(map[string]*context.Exec),
		accumulateExecs: make(map[string]*context.Exec),
		gradientPairs:   make(map[string][]GradientPair),
	}
	for _, option := range options {
		option(l)
	}
	klog.V(1).Infof("losses.New(): %+v", config)
	return l, nil
}

// Config returns the hyperparameters in use.
func (l *Loss) Config() Config { return l.config }

// Balancer returns the ScoreBalancer updated by the loss.
func (l *Loss) Balancer() *balance.ScoreBalancer { return l.balancer }

// PseudoBatch returns the cached fake images of the last generator main pass, or nil if there was none.
func (l *Loss) PseudoBatch() *tensors.Tensor { return l.pseudo }

// StepState is a snapshot of the state the Loss carries across training steps.
type StepState struct {
	PathLengthMean                     float64
	GeneratorScore, DiscriminatorScore float64
	HasPseudoBatch                     bool
}

// State returns a snapshot of the state carried across steps.
func (l *Loss) State() StepState {
	state := StepState{HasPseudoBatch: l.pseudo != nil}
	state.GeneratorScore, state.DiscriminatorScore = l.balancer.Scores()
	if v := l.ctx.InspectVariable("/"+Scope, pathLengthMeanName); v != nil && v.Value() != nil {
		state.PathLengthMean = float64(tensors.ToScalar[float32](v.Value()))
	}
	return state
}

// lossTerm is the gradient of one sub-loss (batch mean, unscaled) with respect to the trainable variables
// of one module, and the factor it is accumulated with.
type lossTerm struct {
	name, module string
	factor       float64
	grads        []*tensors.Tensor
}

// AccumulateGradients computes the losses of the phase and accumulates their gradients, scaled by gain
// (and by the balancer scaling factor for the discriminator losses), into the gradient accumulators of
// the trained module.
//
// realImages are shaped [batch, channels, height, width] and latents [batch, zDim]. The conditioning
// tensors may be nil for unconditional networks. synchronize tells whether the passes that are
// allowed to do so should participate in the cross-replica gradient reduction.
//
// The balancer is updated, in order, with the fake images probabilities of the generator pass, those of
// the discriminator pass and the real images probabilities.
//
// Precondition violations return errors wrapping ErrPrecondition. Any other error means the step was
// aborted and the accumulated gradients are undefined.
func (l *Loss) AccumulateGradients(phase Phase, realImages, realConditioning, latents, latentConditioning *tensors.Tensor,
	synchronize bool, gain float64) error {
	active, found := phaseLosses[phase]
	if !found {
		return errors.Wrapf(ErrInvalidPhase, "AccumulateGradients(phase=%s)", phase)
	}
	doGmain := active.generatorMain
	doDmain := active.discriminatorMain
	doGpl := active.generatorRegularize && l.config.PLWeight != 0
	doDr1 := active.discriminatorRegularize && l.config.R1Gamma != 0
	klog.V(2).Infof("AccumulateGradients(phase=%s, gain=%g, sync=%v): Gmain=%v Gpl=%v Dmain=%v Dr1=%v",
		phase.ShortLabel(), gain, synchronize, doGmain, doGpl, doDmain, doDr1)

	err := exceptions.TryCatch[error](func() {
		if doGmain {
			l.generatorMain(latents, latentConditioning, synchronize && !doGpl, gain)
		}
		if doGpl {
			l.pathLength(latents, latentConditioning, synchronize, gain)
		}
		var fakeLoss []float32
		if doDmain {
			fakeLoss = l.discriminatorFake(latents, latentConditioning, gain)
		}
		if doDmain || doDr1 {
			l.discriminatorReal(realImages, realConditioning, doDmain, doDr1, fakeLoss, synchronize, gain)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "AccumulateGradients(phase=%s)", phase)
	}
	return nil
}

// enter the synchronization scope of the modules, it returns the function that exits all of them.
func (l *Loss) enter(synchronize map[string]bool, modules ...string) (exit func()) {
	if l.sync == nil {
		return func() {}
	}
	exits := make([]func(), 0, len(modules))
	for _, module := range modules {
		exits = append(exits, l.sync.Enter(module, synchronize[module]))
	}
	return func() {
		for ii := len(exits) - 1; ii >= 0; ii-- {
			exits[ii]()
		}
	}
}

// syncFlags returns the synchronization flags for the generator modules and the discriminator.
func syncFlags(generator, discriminator bool) map[string]bool {
	return map[string]bool{
		SyncMapping:       generator,
		SyncSynthesis:     generator,
		SyncDiscriminator: discriminator,
	}
}

// exec returns the cached executor with the given name, creating it with graphFn if needed.
func (l *Loss) exec(name string, graphFn func(ctx *context.Context, inputs []*Node) []*Node) *context.Exec {
	if exec, found := l.execs[name]; found {
		return exec
	}
	exec := context.NewExec(l.backend, l.ctx, graphFn)
	l.execs[name] = exec
	return exec
}

// call the executor inside the synchronization scopes of the modules.
func (l *Loss) call(exec *context.Exec, synchronize map[string]bool, modules []string, args ...*tensors.Tensor) []*tensors.Tensor {
	exit := l.enter(synchronize, modules...)
	defer exit()
	return exec.Call(callArgs(args...)...)
}

// execName appends "_cond" to the name of executors that take conditioning.
func execName(name string, conditional bool) string {
	if conditional {
		return name + "_cond"
	}
	return name
}

// callArgs converts the non-nil tensors to the arguments of an executor.
func callArgs(values ...*tensors.Tensor) []any {
	args := make([]any, 0, len(values))
	for _, value := range values {
		if value != nil {
			args = append(args, value)
		}
	}
	return args
}

// splitConditioning returns inputs[0] and, if conditional, inputs[1].
func splitConditioning(inputs []*Node, conditional bool) (x, c *Node) {
	x = inputs[0]
	if conditional {
		c = inputs[1]
	}
	return
}

// generatorMain: the generator tries to make the discriminator classify its images as real.
func (l *Loss) generatorMain(latents, conditioning *tensors.Tensor, synchronize bool, gain float64) {
	conditional := conditioning != nil
	exec := l.exec(execName("Gmain", conditional), func(ctx *context.Context, inputs []*Node) []*Node {
		z, c := splitConditioning(inputs, conditional)
		ctx.SetTraining(z.Graph(), true)
		images, _ := l.generate(ctx, z, c)
		logits := l.discriminate(ctx, images, c)
		loss := softplus(Neg(logits))
		grads := moduleGradients(ctx, ModuleGenerator, ReduceAllMean(loss))
		return append([]*Node{StopGradient(images), logits, Sigmoid(logits), loss}, grads...)
	})
	outputs := l.call(exec, syncFlags(synchronize, false), []string{SyncMapping, SyncSynthesis, SyncDiscriminator}, latents, conditioning)

	l.pseudo = outputs[0]
	logits := tensors.CopyFlatData[float32](outputs[1])
	l.report("Loss/scores/fake", logits)
	l.report("Loss/signs/fake", signs(logits))
	l.updateBalancer(tensors.CopyFlatData[float32](outputs[2]))
	l.report("Loss/G/loss", tensors.CopyFlatData[float32](outputs[3]))
	l.accumulate(&lossTerm{name: "Gmain", module: ModuleGenerator, factor: gain, grads: outputs[4:]})
}

// pathLength regularization of the generator.
func (l *Loss) pathLength(latents, conditioning *tensors.Tensor, synchronize bool, gain float64) {
	conditional := conditioning != nil
	exec := l.exec(execName("Gpl", conditional), func(ctx *context.Context, inputs []*Node) []*Node {
		z, c := splitConditioning(inputs, conditional)
		ctx.SetTraining(z.Graph(), true)
		images, penalty, loss := l.pathLengthPenalty(ctx, z, c)
		term := ReduceAllMean(Add(MulScalar(firstPixels(images), 0), loss))
		grads := moduleGradients(ctx, ModuleGenerator, term)
		return append([]*Node{penalty, loss}, grads...)
	})
	outputs := l.call(exec, syncFlags(synchronize, false), []string{SyncMapping, SyncSynthesis}, latents, conditioning)

	l.report("Loss/pl_penalty", tensors.CopyFlatData[float32](outputs[0]))
	l.report("Loss/G/reg", tensors.CopyFlatData[float32](outputs[1]))
	l.accumulate(&lossTerm{name: "Gpl", module: ModuleGenerator, factor: gain, grads: outputs[2:]})
}

// discriminatorFake: the discriminator learns to classify generated images as fake.
// It returns the per-sample loss.
func (l *Loss) discriminatorFake(latents, conditioning *tensors.Tensor, gain float64) []float32 {
	conditional := conditioning != nil
	exec := l.exec(execName("Dgen", conditional), func(ctx *context.Context, inputs []*Node) []*Node {
		z, c := splitConditioning(inputs, conditional)
		ctx.SetTraining(z.Graph(), true)
		images, _ := l.generate(ctx, z, c)
		logits := l.discriminate(ctx, StopGradient(images), c)
		loss := softplus(logits)
		grads := moduleGradients(ctx, ModuleDiscriminator, ReduceAllMean(loss))
		return append([]*Node{logits, Sigmoid(logits), loss}, grads...)
	})
	outputs := l.call(exec, syncFlags(false, false), []string{SyncMapping, SyncSynthesis, SyncDiscriminator}, latents, conditioning)

	logits := tensors.CopyFlatData[float32](outputs[0])
	l.report("Loss/scores/fake", logits)
	l.report("Loss/signs/fake", signs(logits))
	l.updateBalancer(tensors.CopyFlatData[float32](outputs[1]))
	l.accumulate(&lossTerm{
		name:   "Dgen",
		module: ModuleDiscriminator,
		factor: gain * l.balancer.ScalingFactor(),
		grads:  outputs[3:],
	})
	return tensors.CopyFlatData[float32](outputs[2])
}

// discriminatorReal: the discriminator learns to classify real images as real (if doMain) and/or
// the R1 gradient penalty (if doR1).
//
// fakeLoss is the per-sample loss of the discriminator fake pass of the same phase, if any.
func (l *Loss) discriminatorReal(realImages, conditioning *tensors.Tensor, doMain, doR1 bool, fakeLoss []float32,
	synchronize bool, gain float64) {
	realImages, err := l.BlendPseudo(realImages)
	if err != nil {
		panic(err)
	}
	conditional := conditioning != nil
	name := "Dreal"
	switch {
	case doMain && doR1:
		name = "Dreal_Dr1"
	case doR1:
		name = "Dr1"
	}
	exec := l.exec(execName(name, conditional), func(ctx *context.Context, inputs []*Node) []*Node {
		images, c := splitConditioning(inputs, conditional)
		ctx.SetTraining(images.Graph(), true)
		logits := l.discriminate(ctx, images, c)
		zeros := ZerosLike(logits)
		lossReal, penalty, lossR1 := zeros, zeros, zeros
		if doMain {
			lossReal = softplus(Neg(logits))
		}
		if doR1 {
			penalty = r1Penalty(images, logits)
			lossR1 = MulScalar(penalty, l.config.R1Gamma/2)
		}
		total := Add(Add(MulScalar(logits, 0), lossReal), lossR1)
		grads := moduleGradients(ctx, ModuleDiscriminator, ReduceAllMean(total))
		probabilities := Sigmoid(Sub(OnesLike(logits), logits))
		return append([]*Node{logits, probabilities, lossReal, penalty, lossR1}, grads...)
	})
	outputs := l.call(exec, syncFlags(false, synchronize), []string{SyncDiscriminator}, realImages, conditioning)

	logits := tensors.CopyFlatData[float32](outputs[0])
	l.report("Loss/scores/real", logits)
	l.report("Loss/signs/real", signs(logits))
	l.updateBalancer(tensors.CopyFlatData[float32](outputs[1]))
	if doMain {
		lossReal := tensors.CopyFlatData[float32](outputs[2])
		if len(fakeLoss) == len(lossReal) {
			total := make([]float32, len(lossReal))
			for ii := range total {
				total[ii] = fakeLoss[ii] + lossReal[ii]
			}
			l.report("Loss/D/loss", total)
		}
	}
	if doR1 {
		l.report("Loss/r1_penalty", tensors.CopyFlatData[float32](outputs[3]))
		l.report("Loss/D/reg", tensors.CopyFlatData[float32](outputs[4]))
	}
	l.accumulate(&lossTerm{
		name:   name,
		module: ModuleDiscriminator,
		factor: gain * l.balancer.ScalingFactor(),
		grads:  outputs[5:],
	})
}

// updateBalancer with the probabilities and reports the new scores.
func (l *Loss) updateBalancer(probabilities []float32) {
	l.balancer.Update(probabilities)
	generator, discriminator := l.balancer.Scores()
	l.report("Balance/G_score", []float32{float32(generator)})
	l.report("Balance/D_score", []float32{float32(discriminator)})
	l.report("Balance/scaling", []float32{float32(l.balancer.ScalingFactor())})
}

// report values to the statistics sink, if one is configured. Failures of the sink are logged and ignored.
func (l *Loss) report(name string, values []float32) {
	if l.stats == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			klog.Warningf("statistics sink failed to report %q: %s", name, fmt.Sprint(r))
		}
	}()
	l.stats.Report(name, values)
}

// signs returns -1, 0 or 1 for each value.
func signs(values []float32) []float32 {
	result := make([]float32, len(values))
	for ii, v := range values {
		switch {
		case v > 0:
			result[ii] = 1
		case v < 0:
			result[ii] = -1
		}
	}
	return result
}
