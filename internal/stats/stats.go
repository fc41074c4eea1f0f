// Package stats implements sinks for the diagnostic values reported by the losses: a Collector that
// aggregates them, a Logger that writes them to klog and Multi to fan them out.
package stats

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/janpfeifer/apagan/internal/generics"
	"k8s.io/klog/v2"
	"math"
	"strings"
	"sync"
)

// Summary of the values reported under one name since the last reset.
type Summary struct {
	Name string

	// Count of finite values, and their mean and standard deviation.
	Count     int
	Mean, Std float64

	// Min, Max and Last finite values.
	Min, Max, Last float32

	// NonFinite counts NaN and infinite values, which are not included in the statistics.
	NonFinite int
}

// String implements fmt.Stringer.
func (s Summary) String() string {
	text := fmt.Sprintf("%s: mean=%.4g std=%.4g (n=%d)", s.Name, s.Mean, s.Std, s.Count)
	if s.NonFinite > 0 {
		text += fmt.Sprintf(" [%d non-finite]", s.NonFinite)
	}
	return text
}

// accumulator keeps running statistics with Welford's algorithm.
type accumulator struct {
	count     int
	mean, m2  float64
	min, max  float32
	last      float32
	nonFinite int
}

func (acc *accumulator) add(value float32) {
	if math32.IsNaN(value) || math32.IsInf(value, 0) {
		acc.nonFinite++
		return
	}
	if acc.count == 0 {
		acc.min, acc.max = value, value
	} else {
		acc.min = math32.Min(acc.min, value)
		acc.max = math32.Max(acc.max, value)
	}
	acc.count++
	acc.last = value
	delta := float64(value) - acc.mean
	acc.mean += delta / float64(acc.count)
	acc.m2 += delta * (float64(value) - acc.mean)
}

func (acc *accumulator) summary(name string) Summary {
	s := Summary{
		Name:      name,
		Count:     acc.count,
		Mean:      acc.mean,
		Min:       acc.min,
		Max:       acc.max,
		Last:      acc.last,
		NonFinite: acc.nonFinite,
	}
	if acc.count > 1 {
		s.Std = math.Sqrt(acc.m2 / float64(acc.count))
	}
	return s
}

// Collector aggregates the reported values per name. It is safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	accumulators map[string]*accumulator
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{accumulators: make(map[string]*accumulator)}
}

// Report implements losses.StatisticsSink.
func (c *Collector) Report(name string, values []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, found := c.accumulators[name]
	if !found {
		acc = &accumulator{}
		c.accumulators[name] = acc
	}
	for _, value := range values {
		acc.add(value)
	}
}

// Get returns the summary of the name. found is false if nothing was reported under the name.
func (c *Collector) Get(name string) (summary Summary, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, found := c.accumulators[name]
	if !found {
		return Summary{Name: name}, false
	}
	return acc.summary(name), true
}

// Mean of the finite values reported under name, or NaN if there were none.
func (c *Collector) Mean(name string) float64 {
	summary, _ := c.Get(name)
	if summary.Count == 0 {
		return math.NaN()
	}
	return summary.Mean
}

// NonFinite returns how many NaN or infinite values were reported under name.
func (c *Collector) NonFinite(name string) int {
	summary, _ := c.Get(name)
	return summary.NonFinite
}

// Snapshot returns the summaries of all names, sorted by name.
func (c *Collector) Snapshot() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summaries := make([]Summary, 0, len(c.accumulators))
	for name := range generics.SortedKeys(c.accumulators) {
		summaries = append(summaries, c.accumulators[name].summary(name))
	}
	return summaries
}

// Reset discards the values reported under the names with the given prefix ("" for all).
func (c *Collector) Reset(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.accumulators {
		if strings.HasPrefix(name, prefix) {
			delete(c.accumulators, name)
		}
	}
}

// Logger writes the reported values to klog at the given verbosity.
type Logger struct {
	Verbosity klog.Level
}

// Report implements losses.StatisticsSink.
func (l Logger) Report(name string, values []float32) {
	if !klog.V(l.Verbosity).Enabled() {
		return
	}
	acc := &accumulator{}
	for _, value := range values {
		acc.add(value)
	}
	klog.V(l.Verbosity).Infof("%s", acc.summary(name))
}

// Sink is the interface implemented by the statistics sinks, the same as losses.StatisticsSink.
type Sink interface {
	Report(name string, values []float32)
}

// Multi reports to each of its sinks, in order.
type Multi []Sink

// Report implements losses.StatisticsSink.
func (m Multi) Report(name string, values []float32) {
	for _, sink := range m {
		sink.Report(name, values)
	}
}
