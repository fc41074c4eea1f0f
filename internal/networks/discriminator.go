package networks

import (
	"fmt"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
)

// Discriminator scores images (and their conditioning) with one logit: positive for "real".
type Discriminator struct {
	CDim int
}

// NewDiscriminator configured from the context hyperparameters.
func NewDiscriminator(ctx *context.Context) *Discriminator {
	return &Discriminator{CDim: context.GetParamOr(ctx, ParamCDim, 0)}
}

// String implements fmt.Stringer.
func (d *Discriminator) String() string {
	return fmt.Sprintf("Discriminator(c=%d)", d.CDim)
}

// Forward returns the logits shaped [batch, 1].
func (d *Discriminator) Forward(ctx *context.Context, images, c *Node) *Node {
	batchSize := images.Shape().Dim(0)
	x := Reshape(images, batchSize, images.Shape().Size()/batchSize)
	if c != nil {
		x = Concatenate([]*Node{x, c}, -1)
	}
	logits := fnnLayer.New(ctx.In("fnn"), x, 1).Done()
	logits.AssertDims(batchSize, 1)
	return logits
}
