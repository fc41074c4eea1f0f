// Package networks implements a small generator/discriminator pair, built from GoMLX feed-forward layers,
// to be trained with the losses package.
//
// They are not meant to generate good images: they exercise the mapping/synthesis split of the generator
// (including the running average of the style codes and truncation), conditioning and the discriminator
// logits the losses are defined on.
package networks

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
)

// Hyperparameters of the networks, stored in the context.
const (
	// ParamZDim is the dimension of the latents.
	ParamZDim = "z_dim"

	// ParamCDim is the dimension of the conditioning, 0 for unconditional networks.
	ParamCDim = "c_dim"

	// ParamWDim is the dimension of each style code.
	ParamWDim = "w_dim"

	// ParamNumWs is the number of style codes, one per synthesis layer.
	ParamNumWs = "num_ws"

	// ParamSynthesisNodes is the number of nodes of each synthesis layer.
	ParamSynthesisNodes = "synthesis_nodes"

	// ParamImageChannels and ParamImageSize define the images shape: [batch, channels, size, size].
	ParamImageChannels = "image_channels"
	ParamImageSize     = "image_size"

	// ParamWAvgBeta is the decay of the running average of the style codes.
	ParamWAvgBeta = "w_avg_beta"
)

// NewContext creates a context with the hyperparameters of the networks set to their defaults.
func NewContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		ParamZDim:           8,
		ParamCDim:           0,
		ParamWDim:           16,
		ParamNumWs:          4,
		ParamSynthesisNodes: 32,
		ParamImageChannels:  1,
		ParamImageSize:      8,
		ParamWAvgBeta:       0.995,

		optimizers.ParamLearningRate: 0.002,
		activations.ParamActivation:  "leaky_relu",
		layers.ParamDropoutRate:      0.0,
		regularizers.ParamL2:         0.0,
		regularizers.ParamL1:         0.0,

		// FNN parameters, shared by all the layers.
		fnnLayer.ParamNumHiddenLayers: 1,
		fnnLayer.ParamNumHiddenNodes:  32,
		fnnLayer.ParamResidual:        true,
		fnnLayer.ParamNormalization:   "none",
	})
	return ctx.Checked(false)
}

// ImageDims returns the dimensions of a batch of images, as configured in the context.
func ImageDims(ctx *context.Context, batchSize int) []int {
	size := context.GetParamOr(ctx, ParamImageSize, 8)
	return []int{batchSize, context.GetParamOr(ctx, ParamImageChannels, 1), size, size}
}
