package losses

import (
	"github.com/pkg/errors"
	"strings"
)

// Phase of a training step: which subset of the generator/discriminator losses to compute.
type Phase int

const (
	PhaseGeneratorMain Phase = iota
	PhaseGeneratorRegularize
	PhaseGeneratorBoth
	PhaseDiscriminatorMain
	PhaseDiscriminatorRegularize
	PhaseDiscriminatorBoth
)

//go:generate go tool enumer -type=Phase -trimprefix=Phase -transform=snake -values -text -json -yaml phase.go

// activeLosses for a phase. The regularizers are further disabled if their weights are 0.
type activeLosses struct {
	generatorMain, generatorRegularize         bool
	discriminatorMain, discriminatorRegularize bool
}

// phaseLosses maps each phase to the losses it activates.
var phaseLosses = map[Phase]activeLosses{
	PhaseGeneratorMain:           {generatorMain: true},
	PhaseGeneratorRegularize:     {generatorRegularize: true},
	PhaseGeneratorBoth:           {generatorMain: true, generatorRegularize: true},
	PhaseDiscriminatorMain:       {discriminatorMain: true},
	PhaseDiscriminatorRegularize: {discriminatorRegularize: true},
	PhaseDiscriminatorBoth:       {discriminatorMain: true, discriminatorRegularize: true},
}

// shortPhaseLabels are the compact names used in training logs and configurations.
var shortPhaseLabels = map[string]Phase{
	"Gmain": PhaseGeneratorMain,
	"Greg":  PhaseGeneratorRegularize,
	"Gboth": PhaseGeneratorBoth,
	"Dmain": PhaseDiscriminatorMain,
	"Dreg":  PhaseDiscriminatorRegularize,
	"Dboth": PhaseDiscriminatorBoth,
}

// ParsePhase accepts either the snake-case name (e.g. "generator_main") or the short label (e.g. "Gmain").
func ParsePhase(label string) (Phase, error) {
	if phase, found := shortPhaseLabels[label]; found {
		return phase, nil
	}
	phase, err := PhaseString(strings.ToLower(label))
	if err != nil {
		return phase, errors.Wrapf(ErrInvalidPhase, "unknown phase %q", label)
	}
	return phase, nil
}

// ShortLabel returns the compact name of the phase, e.g. "Dboth".
func (p Phase) ShortLabel() string {
	for label, phase := range shortPhaseLabels {
		if phase == p {
			return label
		}
	}
	return p.String()
}

// IsGenerator returns whether the phase trains the generator.
func (p Phase) IsGenerator() bool {
	active := phaseLosses[p]
	return active.generatorMain || active.generatorRegularize
}

// IsDiscriminator returns whether the phase trains the discriminator.
func (p Phase) IsDiscriminator() bool {
	active := phaseLosses[p]
	return active.discriminatorMain || active.discriminatorRegularize
}

// Module returns the scope of the module (ModuleGenerator or ModuleDiscriminator) trained in the phase.
func (p Phase) Module() string {
	if p.IsDiscriminator() {
		return ModuleDiscriminator
	}
	return ModuleGenerator
}
