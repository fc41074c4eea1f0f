package stats

import (
	"github.com/chewxy/math32"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/stretchr/testify/require"
	"math"
	"sync"
	"testing"
)

var (
	_ losses.StatisticsSink = (*Collector)(nil)
	_ losses.StatisticsSink = Logger{}
	_ losses.StatisticsSink = Multi{}
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.Report("Loss/G/loss", []float32{1, 2, 3})
	c.Report("Loss/G/loss", []float32{4, math32.NaN(), math32.Inf(1)})
	c.Report("Balance/scaling", []float32{1})

	summary, found := c.Get("Loss/G/loss")
	require.True(t, found)
	require.Equal(t, 4, summary.Count)
	require.InDelta(t, 2.5, summary.Mean, 1e-9)
	require.InDelta(t, math.Sqrt(1.25), summary.Std, 1e-9)
	require.Equal(t, float32(1), summary.Min)
	require.Equal(t, float32(4), summary.Max)
	require.Equal(t, float32(4), summary.Last)
	require.Equal(t, 2, c.NonFinite("Loss/G/loss"))
	require.Contains(t, summary.String(), "2 non-finite")

	_, found = c.Get("Loss/D/loss")
	require.False(t, found)
	require.True(t, math.IsNaN(c.Mean("Loss/D/loss")))

	snapshot := c.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "Balance/scaling", snapshot[0].Name)
	require.Equal(t, "Loss/G/loss", snapshot[1].Name)

	c.Reset("Loss/")
	require.Len(t, c.Snapshot(), 1)
	c.Reset("")
	require.Empty(t, c.Snapshot())
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Report("x", []float32{1})
			}
		}()
	}
	wg.Wait()
	summary, _ := c.Get("x")
	require.Equal(t, 1000, summary.Count)
	require.Zero(t, summary.Std)
}

func TestMulti(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	m := Multi{a, b, Logger{Verbosity: 1}}
	m.Report("x", []float32{2, 4})
	require.Equal(t, 3.0, a.Mean("x"))
	require.Equal(t, 3.0, b.Mean("x"))
}
