package parameters

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString("r1_gamma=0.5, with_dataaug,expr=a=b,,")
	require.Equal(t, Params{"r1_gamma": "0.5", "with_dataaug": "", "expr": "a=b"}, params)

	gamma, err := GetParamOr(params, "r1_gamma", 10.0)
	require.NoError(t, err)
	require.Equal(t, 0.5, gamma)

	withAug, err := PopParamOr(params, "with_dataaug", false)
	require.NoError(t, err)
	require.True(t, withAug)
	require.NotContains(t, params, "with_dataaug")

	missing, err := GetParamOr(params, "pl_batch_shrink", 2)
	require.NoError(t, err)
	require.Equal(t, 2, missing)

	_, err = GetParamOr(Params{"n": "x"}, "n", 1)
	require.Error(t, err)
	_, err = GetParamOr(Params{"b": "maybe"}, "b", false)
	require.Error(t, err)
}

func TestToContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"r1_gamma":        10.0,
		"pl_batch_shrink": 2,
		"with_dataaug":    false,
		"name":            "default",
		"scale":           float32(1),
	})
	params := NewFromConfigString("r1_gamma=1,pl_batch_shrink=4,with_dataaug,name=x,scale=0.5,unknown=3")
	require.NoError(t, ToContext(params, ctx))
	require.Equal(t, 1.0, context.GetParamOr(ctx, "r1_gamma", 0.0))
	require.Equal(t, 4, context.GetParamOr(ctx, "pl_batch_shrink", 0))
	require.True(t, context.GetParamOr(ctx, "with_dataaug", false))
	require.Equal(t, "x", context.GetParamOr(ctx, "name", ""))
	require.Equal(t, float32(0.5), context.GetParamOr(ctx, "scale", float32(0)))

	err := CheckAllUsed(params)
	require.ErrorContains(t, err, "unknown")
	require.NoError(t, CheckAllUsed(Params{}))

	require.Error(t, ToContext(Params{"pl_batch_shrink": "two"}, ctx))
}
