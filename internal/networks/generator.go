package networks

import (
	"fmt"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Generator maps latents to style codes (mapping network), and style codes to images (synthesis network).
type Generator struct {
	ZDim, CDim, WDim, NumWs int
	SynthesisNodes          int
	Channels, Size          int
	WAvgBeta                float64
}

// NewGenerator configured from the context hyperparameters.
func NewGenerator(ctx *context.Context) *Generator {
	return &Generator{
		ZDim:           context.GetParamOr(ctx, ParamZDim, 8),
		CDim:           context.GetParamOr(ctx, ParamCDim, 0),
		WDim:           context.GetParamOr(ctx, ParamWDim, 16),
		NumWs:          context.GetParamOr(ctx, ParamNumWs, 4),
		SynthesisNodes: context.GetParamOr(ctx, ParamSynthesisNodes, 32),
		Channels:       context.GetParamOr(ctx, ParamImageChannels, 1),
		Size:           context.GetParamOr(ctx, ParamImageSize, 8),
		WAvgBeta:       context.GetParamOr(ctx, ParamWAvgBeta, 0.995),
	}
}

// String implements fmt.Stringer.
func (gen *Generator) String() string {
	return fmt.Sprintf("Generator(z=%d, c=%d, w=%dx%d, images=%dx%dx%d)",
		gen.ZDim, gen.CDim, gen.NumWs, gen.WDim, gen.Channels, gen.Size, gen.Size)
}

// wAvgVar returns the running average of the style codes.
func (gen *Generator) wAvgVar(ctx *context.Context) *context.Variable {
	return ctx.In("mapping").
		VariableWithValue("w_avg", tensors.FromShape(shapes.Make(dtypes.Float32, gen.WDim))).
		SetTrainable(false)
}

// normalize2ndMoment scales each example so the mean of its squared values is 1.
func normalize2ndMoment(x *Node) *Node {
	return Mul(x, Rsqrt(AddScalar(ExpandAxes(ReduceMean(Square(x), -1), -1), 1e-8)))
}

// Mapping returns the style codes for latents z and conditioning c (nil if unconditional), shaped
// [batch, numWs, wDim].
//
// While training, and unless skipAverageUpdate is set, it updates the running average of the style codes.
func (gen *Generator) Mapping(ctx *context.Context, z, c *Node, skipAverageUpdate bool) *Node {
	g := z.Graph()
	batchSize := z.Shape().Dim(0)
	x := normalize2ndMoment(z)
	if c != nil {
		embedded := fnnLayer.New(ctx.In("embed"), c, gen.WDim).NumHiddenLayers(0, 0).Done()
		x = Concatenate([]*Node{x, normalize2ndMoment(embedded)}, -1)
	}
	w := fnnLayer.New(ctx.In("mapping"), x, gen.WDim).Done()

	if !skipAverageUpdate && ctx.IsTraining(g) {
		wAvg := gen.wAvgVar(ctx)
		batchMean := ReduceMean(StopGradient(w), 0)
		current := wAvg.ValueGraph(g)
		wAvg.SetValueGraph(Add(batchMean, MulScalar(Sub(current, batchMean), gen.WAvgBeta)))
	}
	return BroadcastToDims(ExpandAxes(w, 1), batchSize, gen.NumWs, gen.WDim)
}

// Truncate moves the style codes towards their running average: psi=1 leaves them unchanged, psi=0
// replaces them by the average.
func (gen *Generator) Truncate(ctx *context.Context, ws *Node, psi float64) *Node {
	wAvg := gen.wAvgVar(ctx).ValueGraph(ws.Graph())
	wAvg = BroadcastToDims(Reshape(wAvg, 1, 1, gen.WDim), ws.Shape().Dimensions...)
	return Add(wAvg, MulScalar(Sub(ws, wAvg), psi))
}

// Synthesis generates images shaped [batch, channels, size, size], with values in [-1, 1], from the style
// codes: each layer takes the previous layer output and one style code.
func (gen *Generator) Synthesis(ctx *context.Context, ws *Node) *Node {
	batchSize := ws.Shape().Dim(0)
	ws.AssertDims(batchSize, gen.NumWs, gen.WDim)
	var x *Node
	for layerIdx := range gen.NumWs {
		style := Reshape(Slice(ws, AxisRange(), AxisElem(layerIdx)), batchSize, gen.WDim)
		if x != nil {
			style = Concatenate([]*Node{x, style}, -1)
		}
		x = fnnLayer.New(ctx.In("synthesis").In(fmt.Sprintf("layer_%d", layerIdx)), style, gen.SynthesisNodes).
			NumHiddenLayers(0, 0).Done()
	}
	numPixels := gen.Channels * gen.Size * gen.Size
	x = fnnLayer.New(ctx.In("synthesis").In("to_image"), x, numPixels).NumHiddenLayers(0, 0).Done()
	return Reshape(Tanh(x), batchSize, gen.Channels, gen.Size, gen.Size)
}

// Generate images from latents and conditioning (may be nil), with truncation psi.
// It doesn't update the running average of the style codes.
func (gen *Generator) Generate(ctx *context.Context, z, c *Node, psi float64) *Node {
	ws := gen.Mapping(ctx, z, c, true)
	if psi != 1 {
		ws = gen.Truncate(ctx, ws, psi)
	}
	return gen.Synthesis(ctx, ws)
}
