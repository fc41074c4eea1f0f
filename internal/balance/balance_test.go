package balance

import (
	"github.com/stretchr/testify/require"
	"math/rand"
	"testing"
)

func TestScoreBalancer_Initial(t *testing.T) {
	b := New(DefaultStrength)
	g, d := b.Scores()
	require.Equal(t, InitialScore, g)
	require.Equal(t, InitialScore, d)
	require.Equal(t, 1.0, b.ScalingFactor())
	require.Equal(t, 0.5, b.Expected())
	require.Equal(t, DefaultStrength, b.Strength())
}

func TestScoreBalancer_Update(t *testing.T) {
	// expected = (500/500)/2 = 0.5, observed = 1, delta = -0.5: generator gains 50 points.
	b := New(100)
	b.Update([]float32{1.0})
	g, d := b.Scores()
	require.InDelta(t, 550.0, g, 1e-9)
	require.InDelta(t, 450.0, d, 1e-9)
	require.InDelta(t, 550.0/450.0, b.ScalingFactor(), 1e-12)

	// Observed below the expected value moves points back to the discriminator.
	b = New(100)
	b.Update([]float32{0, 0, 0, 0})
	g, d = b.Scores()
	require.InDelta(t, 450.0, g, 1e-9)
	require.InDelta(t, 550.0, d, 1e-9)
}

func TestScoreBalancer_NoChangeWhenExpected(t *testing.T) {
	b := New(100)
	b.Update([]float32{0.9})
	g0, d0 := b.Scores()
	expected := float32(b.Expected())
	b.Update([]float32{expected, expected, expected})
	g1, d1 := b.Scores()
	// The float32 rounding of expected is the only source of change.
	require.InDelta(t, g0, g1, 1e-3)
	require.InDelta(t, d0, d1, 1e-3)

	// Exact with float32 representable values.
	b = New(100)
	b.Update([]float32{0.5, 0.5})
	g, d := b.Scores()
	require.Equal(t, InitialScore, g)
	require.Equal(t, InitialScore, d)
}

func TestScoreBalancer_SumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := New(25)
	total := b.Total()
	for range 1000 {
		batch := make([]float32, 1+rng.Intn(16))
		for ii := range batch {
			batch[ii] = rng.Float32()
		}
		b.Update(batch)
		require.InDelta(t, total, b.Total(), 1e-9)
	}
}

func TestScoreBalancer_ScalingFactorIsPure(t *testing.T) {
	b := New(100)
	b.Update([]float32{0.2, 0.7})
	g, d := b.Scores()
	for range 3 {
		require.Equal(t, g/d, b.ScalingFactor())
	}
	g2, d2 := b.Scores()
	require.Equal(t, g, g2)
	require.Equal(t, d, d2)
}

func TestScoreBalancer_EmptyBatch(t *testing.T) {
	b := New(100)
	b.Update(nil)
	g, d := b.Scores()
	require.Equal(t, InitialScore, g)
	require.Equal(t, InitialScore, d)
}

func TestScoreBalancer_MinScore(t *testing.T) {
	// Without a bound, a large K overshoots: expected=0.5, observed=0, so 0.5*2000 points
	// are taken from the generator.
	unbounded := New(2000)
	unbounded.Update([]float32{0})
	g, d := unbounded.Scores()
	require.InDelta(t, -500.0, g, 1e-9)
	require.InDelta(t, 1500.0, d, 1e-9)

	bounded := New(2000, WithMinScore(50))
	bounded.Update([]float32{0})
	g, d = bounded.Scores()
	require.Equal(t, 50.0, g)
	require.Equal(t, 950.0, d)
	for range 20 {
		bounded.Update([]float32{0, 1, 0})
		g, d = bounded.Scores()
		require.GreaterOrEqual(t, g, 50.0)
		require.GreaterOrEqual(t, d, 50.0)
		require.InDelta(t, 2*InitialScore, g+d, 1e-9)
	}
}
