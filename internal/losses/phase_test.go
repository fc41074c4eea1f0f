package losses

import (
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/apagan/internal/balance"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParsePhase(t *testing.T) {
	for label, want := range map[string]Phase{
		"Gmain":                    PhaseGeneratorMain,
		"Greg":                     PhaseGeneratorRegularize,
		"Gboth":                    PhaseGeneratorBoth,
		"Dmain":                    PhaseDiscriminatorMain,
		"Dreg":                     PhaseDiscriminatorRegularize,
		"Dboth":                    PhaseDiscriminatorBoth,
		"generator_main":           PhaseGeneratorMain,
		"discriminator_regularize": PhaseDiscriminatorRegularize,
		"Discriminator_Both":       PhaseDiscriminatorBoth,
	} {
		got, err := ParsePhase(label)
		require.NoError(t, err, "label %q", label)
		require.Equal(t, want, got, "label %q", label)
	}

	_, err := ParsePhase("Gfoo")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidPhase))
	require.True(t, errors.Is(err, ErrPrecondition))
}

func TestPhaseProperties(t *testing.T) {
	for _, phase := range PhaseValues() {
		require.NotEqual(t, phase.IsGenerator(), phase.IsDiscriminator(), "phase %s", phase)
		parsed, err := ParsePhase(phase.ShortLabel())
		require.NoError(t, err)
		require.Equal(t, phase, parsed)
	}
	require.Equal(t, ModuleGenerator, PhaseGeneratorBoth.Module())
	require.Equal(t, ModuleDiscriminator, PhaseDiscriminatorRegularize.Module())
	require.Equal(t, "Dboth", PhaseDiscriminatorBoth.ShortLabel())
	require.Equal(t, "generator_regularize", PhaseGeneratorRegularize.String())
	require.False(t, Phase(17).IsAPhase())
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	config := DefaultConfig()
	config.PLBatchShrink = 0
	require.Error(t, config.Validate())
	config = DefaultConfig()
	config.StyleMixingProb = 1.5
	require.Error(t, config.Validate())
	config = DefaultConfig()
	config.R1Gamma = -10
	require.ErrorContains(t, config.Validate(), ParamR1Gamma)
	config.R1Gamma = 0
	require.NoError(t, config.Validate())
}

func TestNewRejectsNegativeR1Gamma(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamR1Gamma, -10.0)
	_, err := New(ctx, graphtest.BuildTestBackend(), linearGenerator{}, linearDiscriminator{}, balance.New(0))
	require.ErrorContains(t, err, ParamR1Gamma)
}
