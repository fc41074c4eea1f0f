package trainer

import (
	"fmt"
	"github.com/janpfeifer/apagan/internal/generics"
	"github.com/janpfeifer/apagan/internal/losses"
	"strings"
)

// PhaseStep is one phase of a training step and the gain its losses are accumulated with.
type PhaseStep struct {
	Phase losses.Phase
	Gain  float64
}

// String implements fmt.Stringer.
func (ps PhaseStep) String() string {
	if ps.Gain == 1 {
		return ps.Phase.ShortLabel()
	}
	return fmt.Sprintf("%s(x%g)", ps.Phase.ShortLabel(), ps.Gain)
}

// Schedule of the phases with lazy regularization: with an interval > 1 the regularization of a module
// runs in its own phase only once every interval steps, with gain = interval to compensate. With an
// interval <= 1, the main loss and the regularization run together every step.
type Schedule struct {
	GRegInterval, DRegInterval int
}

// DefaultSchedule uses the intervals of StyleGAN2.
func DefaultSchedule() Schedule {
	return Schedule{GRegInterval: 4, DRegInterval: 16}
}

// Phases to run at the given step (starting at 0), generator first.
func (s Schedule) Phases(step int) []PhaseStep {
	phases := make([]PhaseStep, 0, 4)
	phases = appendModulePhases(phases, step, s.GRegInterval,
		losses.PhaseGeneratorBoth, losses.PhaseGeneratorMain, losses.PhaseGeneratorRegularize)
	phases = appendModulePhases(phases, step, s.DRegInterval,
		losses.PhaseDiscriminatorBoth, losses.PhaseDiscriminatorMain, losses.PhaseDiscriminatorRegularize)
	return phases
}

func appendModulePhases(phases []PhaseStep, step, interval int, both, main, reg losses.Phase) []PhaseStep {
	if interval <= 1 {
		return append(phases, PhaseStep{Phase: both, Gain: 1})
	}
	phases = append(phases, PhaseStep{Phase: main, Gain: 1})
	if step%interval == 0 {
		phases = append(phases, PhaseStep{Phase: reg, Gain: float64(interval)})
	}
	return phases
}

// Describe the phases of the first n steps, e.g.: "Gmain,Greg(x4),Dmain,Dreg(x16) | Gmain,Dmain | ...".
func (s Schedule) Describe(n int) string {
	steps := make([]string, n)
	for step := range n {
		labels := generics.SliceMap(s.Phases(step), PhaseStep.String)
		steps[step] = strings.Join(labels, ",")
	}
	return strings.Join(steps, " | ")
}
