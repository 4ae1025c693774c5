package meter

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Metric alias tables. Order matters: the first key present with a numeric
// value wins.
var (
	currentKeys     = []string{"a", "amp", "current", "i", "value"}
	voltageKeys     = []string{"v", "volt", "voltage", "u"}
	powerKWKeys     = []string{"kw", "kW", "p_kw", "power_kw", "p", "power"}
	powerFactorKeys = []string{"pf", "power_factor", "powerfactor"}
)

// Term alias tables used by the nested strategy.
var (
	inAliases  = []string{"in", "input", "inlet", "src"}
	outAliases = []string{"out", "output", "outlet", "dst"}
)

// toNumber coerces JSON numbers and numeric strings to float64.
// Booleans, nil, empty strings and non-finite values are rejected.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, false
		}
		v = strings.TrimSpace(val)
	case map[string]any, []any:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// firstNumber returns the first numeric value found under keys in m.
func firstNumber(m map[string]any, keys []string) *float64 {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		if f, ok := toNumber(raw); ok {
			return &f
		}
	}
	return nil
}

// toText returns strings and numbers as trimmed text.
func toText(v any) string {
	switch val := v.(type) {
	case nil, bool, map[string]any, []any:
		return ""
	case string:
		return strings.TrimSpace(val)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// ParsePhase maps the phase spellings seen in the field to a Phase.
// Accepted: L1/L2/L3, 1/2/3, R/S/T, CT1/CT2/CT3 (case-insensitive) and
// numeric values 1..3.
func ParsePhase(v any) (Phase, bool) {
	switch strings.ToUpper(toText(v)) {
	case "L1", "1", "R", "CT1":
		return PhaseL1, true
	case "L2", "2", "S", "CT2":
		return PhaseL2, true
	case "L3", "3", "T", "CT3":
		return PhaseL3, true
	default:
		return "", false
	}
}

// ParseTerm maps term spellings (including nested-object aliases) to a Term.
func ParseTerm(v any) (Term, bool) {
	s := strings.ToLower(toText(v))
	for _, a := range inAliases {
		if s == a {
			return TermIn, true
		}
	}
	for _, a := range outAliases {
		if s == a {
			return TermOut, true
		}
	}
	return "", false
}

// channelFrom builds a channel from an object value, resolving metric
// aliases and keeping the source fields verbatim.
func channelFrom(term Term, phase Phase, fields map[string]any) ChannelRecord {
	return ChannelRecord{
		Term:        term,
		Phase:       phase,
		Current:     firstNumber(fields, currentKeys),
		Voltage:     firstNumber(fields, voltageKeys),
		PowerKW:     firstNumber(fields, powerKWKeys),
		PowerFactor: firstNumber(fields, powerFactorKeys),
		Fields:      deepCopyMap(fields),
	}
}

// channelFromValue builds a channel from either an object or a scalar.
// A scalar is treated as the channel's current under the "value" key.
func channelFromValue(term Term, phase Phase, v any) ChannelRecord {
	if obj, ok := v.(map[string]any); ok {
		return channelFrom(term, phase, obj)
	}
	return channelFrom(term, phase, map[string]any{"value": v})
}
