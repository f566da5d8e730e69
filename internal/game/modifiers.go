package game

import (
	"fmt"
	"math"
	"strings"
)

type ModifierKey string

const (
	ModBusinessIncome ModifierKey = "business_income"
	ModEnergyRegen    ModifierKey = "energy_regen"
	ModHeatDecay      ModifierKey = "heat_decay"
	ModXPGain         ModifierKey = "xp_gain"
	ModCashGain       ModifierKey = "cash_gain"
	ModCrimeSuccess   ModifierKey = "crime_success"
)

var modifierKeys = map[ModifierKey]bool{
	ModBusinessIncome: true,
	ModEnergyRegen:    true,
	ModHeatDecay:      true,
	ModXPGain:         true,
	ModCashGain:       true,
	ModCrimeSuccess:   true,
}

type ModifierOp string

const (
	OpMultiply ModifierOp = "mul"
	OpAdd      ModifierOp = "add"
)

type Modifier struct {
	Key   ModifierKey `json:"key" yaml:"key"`
	Op    ModifierOp  `json:"op" yaml:"op"`
	Value float64     `json:"value" yaml:"value"`
}

func NewModifier(key, op string, value float64) (Modifier, error) {
	m := Modifier{
		Key:   ModifierKey(strings.ToLower(strings.TrimSpace(key))),
		Op:    ModifierOp(strings.ToLower(strings.TrimSpace(op))),
		Value: value,
	}
	return m, m.Validate()
}

func (m Modifier) Validate() error {
	if !modifierKeys[m.Key] {
		return fmt.Errorf("%w: unknown modifier %q", ErrInvalidInput, m.Key)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("%w: modifier %s value must be finite", ErrInvalidInput, m.Key)
	}
	switch m.Op {
	case OpMultiply:
		if m.Value < 0 {
			return fmt.Errorf("%w: multiplier %s must be >= 0", ErrInvalidInput, m.Key)
		}
	case OpAdd:
	default:
		return fmt.Errorf("%w: modifier %s op must be mul or add", ErrInvalidInput, m.Key)
	}
	return nil
}

// ModifierSet holds at most one modifier per key.
type ModifierSet map[ModifierKey]Modifier

// Merge overlays mods onto the set; a key already present is replaced.
func (s ModifierSet) Merge(mods []Modifier) {
	for _, m := range mods {
		s[m.Key] = m
	}
}

func (s ModifierSet) Apply(key ModifierKey, base float64) float64 {
	m, ok := s[key]
	if !ok {
		return base
	}
	if m.Op == OpMultiply {
		return base * m.Value
	}
	return base + m.Value
}
