// Package losses implements the loss of one adversarial training step of a generator/discriminator
// pair (StyleGAN2 style), with path length and R1 regularization, adaptive pseudo augmentation (APA) and
// score balancing of the discriminator losses.
//
// The networks are collaborators (see Generator and Discriminator) written as GoMLX graph functions;
// the loss builds one GoMLX executor per sub-loss, and "backpropagation" means accumulating the scaled
// gradients of each sub-loss into per-variable accumulators (see Loss.ZeroGradients and
// Loss.GradientPairs), which the outer training loop uses to update the weights.
//
// Hyperparameters are read from the context, see the Param* constants.
package losses

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

// Scopes of the modules in the context. The generator and discriminator variables live under them.
const (
	ModuleGenerator     = "generator"
	ModuleDiscriminator = "discriminator"

	// Scope used for the loss own state, e.g.: the path length running mean.
	Scope = "losses"

	// GradientsScope is where the accumulated gradients are stored: one variable per trainable variable,
	// under GradientsScope + <variable scope>, with the same name.
	GradientsScope = "gradients"
)

// Names of the modules used when entering a SynchronizationScope.
const (
	SyncMapping       = "generator/mapping"
	SyncSynthesis     = "generator/synthesis"
	SyncDiscriminator = "discriminator"
)

// Generator collaborator: it must create its variables under the given context.
type Generator interface {
	// Mapping maps latents z (shaped [batch, zDim]) and conditioning c (nil if unconditional) to the
	// intermediate style codes ws, shaped [batch, numWs, wDim].
	//
	// skipAverageUpdate disables the update of any running average of ws the mapping may keep.
	Mapping(ctx *context.Context, z, c *graph.Node, skipAverageUpdate bool) (ws *graph.Node)

	// Synthesis generates images shaped [batch, channels, height, width] from the style codes ws.
	Synthesis(ctx *context.Context, ws *graph.Node) (images *graph.Node)
}

// Discriminator collaborator: it must create its variables under the given context.
type Discriminator interface {
	// Forward returns one logit per image, shaped [batch, 1] or [batch]. Conditioning c may be nil.
	Forward(ctx *context.Context, images, c *graph.Node) (logits *graph.Node)
}

// AugmentationPipeline collaborator, optional.
type AugmentationPipeline interface {
	// Probability currently used by the pipeline, also used by the adaptive pseudo augmentation
	// as the probability of replacing a real image by a generated one.
	Probability() float64

	// AugmentGraph applies the augmentation transforms to a batch of images.
	AugmentGraph(ctx *context.Context, images *graph.Node) *graph.Node
}

// SynchronizationScope collaborator: marks which passes participate in a cross-replica gradient
// reduction. When synchronize is false, gradients are only accumulated locally.
type SynchronizationScope interface {
	// Enter the scope for the given module. The returned function exits the scope.
	Enter(module string, synchronize bool) (exit func())
}

// StatisticsSink collaborator receives diagnostic values. Reporting is fire-and-forget: a failing sink
// doesn't affect the losses.
type StatisticsSink interface {
	Report(name string, values []float32)
}

var (
	// ErrPrecondition is the base error of all precondition violations: they are not recoverable.
	ErrPrecondition = errors.New("precondition violated")

	// ErrInvalidPhase is returned when AccumulateGradients is given an unknown phase.
	ErrInvalidPhase = errors.Wrap(ErrPrecondition, "invalid phase")

	// ErrNoPseudoBatch is returned when the adaptive pseudo augmentation needs generated images, but
	// no generator main phase has run yet.
	ErrNoPseudoBatch = errors.Wrap(ErrPrecondition, "no cached pseudo batch: run a generator main phase first")
)

// Hyperparameters read from the context.
const (
	// ParamStyleMixingProb is the probability of mixing the style codes of two latents.
	ParamStyleMixingProb = "style_mixing_prob"

	// ParamR1Gamma is the R1 gradient penalty weight. 0 disables it.
	ParamR1Gamma = "r1_gamma"

	// ParamPLBatchShrink divides the batch size for the path length regularization.
	ParamPLBatchShrink = "pl_batch_shrink"

	// ParamPLDecay is the decay rate of the path length running mean.
	ParamPLDecay = "pl_decay"

	// ParamPLWeight is the weight of the path length penalty. 0 disables it.
	ParamPLWeight = "pl_weight"

	// ParamWithDataAug enables the augmentation transforms before the discriminator (if an
	// AugmentationPipeline is configured).
	ParamWithDataAug = "with_dataaug"
)

// Config holds the hyperparameters of the loss.
type Config struct {
	StyleMixingProb float64
	R1Gamma         float64
	PLBatchShrink   int
	PLDecay         float64
	PLWeight        float64
	WithDataAug     bool
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		StyleMixingProb: 0.9,
		R1Gamma:         10,
		PLBatchShrink:   2,
		PLDecay:         0.01,
		PLWeight:        2,
		WithDataAug:     false,
	}
}

// SetDefaultParams sets in the context the default values of the hyperparameters not yet set.
func SetDefaultParams(ctx *context.Context) {
	defaults := DefaultConfig()
	params := map[string]any{
		ParamStyleMixingProb: defaults.StyleMixingProb,
		ParamR1Gamma:         defaults.R1Gamma,
		ParamPLBatchShrink:   defaults.PLBatchShrink,
		ParamPLDecay:         defaults.PLDecay,
		ParamPLWeight:        defaults.PLWeight,
		ParamWithDataAug:     defaults.WithDataAug,
	}
	for key, value := range params {
		if _, found := ctx.GetParam(key); !found {
			ctx.SetParam(key, value)
		}
	}
}

// ConfigFromContext reads the hyperparameters from the context, using the defaults for the missing ones.
func ConfigFromContext(ctx *context.Context) Config {
	defaults := DefaultConfig()
	return Config{
		StyleMixingProb: context.GetParamOr(ctx, ParamStyleMixingProb, defaults.StyleMixingProb),
		R1Gamma:         context.GetParamOr(ctx, ParamR1Gamma, defaults.R1Gamma),
		PLBatchShrink:   context.GetParamOr(ctx, ParamPLBatchShrink, defaults.PLBatchShrink),
		PLDecay:         context.GetParamOr(ctx, ParamPLDecay, defaults.PLDecay),
		PLWeight:        context.GetParamOr(ctx, ParamPLWeight, defaults.PLWeight),
		WithDataAug:     context.GetParamOr(ctx, ParamWithDataAug, defaults.WithDataAug),
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.PLBatchShrink < 1 {
		return errors.Errorf("%s must be >= 1, got %d", ParamPLBatchShrink, c.PLBatchShrink)
	}
	if c.StyleMixingProb < 0 || c.StyleMixingProb > 1 {
		return errors.Errorf("%s must be in [0, 1], got %g", ParamStyleMixingProb, c.StyleMixingProb)
	}
	if c.R1Gamma < 0 {
		return errors.Errorf("%s must be >= 0, got %g", ParamR1Gamma, c.R1Gamma)
	}
	if c.PLDecay < 0 || c.PLDecay > 1 {
		return errors.Errorf("%s must be in [0, 1], got %g", ParamPLDecay, c.PLDecay)
	}
	return nil
}
