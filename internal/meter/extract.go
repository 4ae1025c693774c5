package meter

import (
	"fmt"
	"sort"
)

// StrategyKind names a channel extraction strategy.
type StrategyKind string

// Extraction strategies, in the order they are tried.
const (
	StrategyNone         StrategyKind = ""
	StrategyPreBuilt     StrategyKind = "prebuilt"
	StrategyNested       StrategyKind = "nested"
	StrategyPhaseDirect  StrategyKind = "phase_direct"
	StrategyFlatPerPhase StrategyKind = "flat_per_phase"
)

// Strategy extracts channels from one payload shape.
//
// Extract returns the channels it recognised (possibly none) together with
// the issues it tolerated. It must not mutate payload.
type Strategy interface {
	Kind() StrategyKind
	Extract(payload map[string]any) ([]ChannelRecord, []Issue)
}

// DefaultStrategies returns the strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		PreBuiltStrategy{},
		NestedStrategy{},
		PhaseDirectStrategy{},
		FlatPerPhaseStrategy{},
	}
}

// retainedKeys hold payloads embedded by the bulk listing.
var retainedKeys = []string{"last_payload", "summary_value"}

// extractChannels runs the strategies against raw and then against any
// retained payload. The first non-empty result wins.
func extractChannels(raw map[string]any, strategies []Strategy) ([]ChannelRecord, StrategyKind, []Issue) {
	var issues []Issue
	if chans, kind, found := runStrategies(raw, strategies, &issues); found {
		return chans, kind, issues
	}
	for _, key := range retainedKeys {
		inner, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		if chans, kind, found := runStrategies(inner, strategies, &issues); found {
			return chans, kind, issues
		}
	}
	return []ChannelRecord{}, StrategyNone, issues
}

func runStrategies(payload map[string]any, strategies []Strategy, issues *[]Issue) ([]ChannelRecord, StrategyKind, bool) {
	for _, s := range strategies {
		chans, iss := s.Extract(payload)
		*issues = append(*issues, iss...)
		if len(chans) > 0 {
			return chans, s.Kind(), true
		}
	}
	return nil, StrategyNone, false
}

// keepMetered drops channels without any metric, recording an issue each.
func keepMetered(chans []ChannelRecord, issues *issueList) []ChannelRecord {
	out := chans[:0]
	for _, ch := range chans {
		if !ch.HasMetric() {
			issues.add(IssueMetricless, fmt.Sprintf("%s.%s", ch.Term, ch.Phase), "")
			continue
		}
		out = append(out, ch)
	}
	return out
}

// ---------------------------------------------------------------------------
// PreBuilt
// ---------------------------------------------------------------------------

// PreBuiltStrategy reads a ready-made "channels" array.
//
// Each entry's term comes from term, io or side (default "in") and its
// phase from phase or ph, numeric phases included (default L1).
type PreBuiltStrategy struct{}

// Kind implements Strategy.
func (PreBuiltStrategy) Kind() StrategyKind { return StrategyPreBuilt }

// Extract implements Strategy.
func (PreBuiltStrategy) Extract(payload map[string]any) ([]ChannelRecord, []Issue) {
	list, ok := payload["channels"].([]any)
	if !ok || len(list) == 0 {
		return nil, nil
	}

	var issues issueList
	chans := make([]ChannelRecord, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			issues.add(IssueMalformedEntry, fmt.Sprintf("channels[%d]", i), fmt.Sprintf("%T", item))
			continue
		}

		term := TermIn
		if rawTerm := firstPresent(entry, "term", "io", "side"); rawTerm != nil {
			if t, ok := ParseTerm(rawTerm); ok {
				term = t
			} else {
				issues.add(IssueUnknownTerm, fmt.Sprintf("channels[%d]", i), toText(rawTerm))
			}
		}

		phase := PhaseL1
		if rawPhase := firstPresent(entry, "phase", "ph"); rawPhase != nil {
			if p, ok := ParsePhase(rawPhase); ok {
				phase = p
			} else {
				issues.add(IssueUnknownPhase, fmt.Sprintf("channels[%d]", i), toText(rawPhase))
			}
		}

		chans = append(chans, channelFrom(term, phase, entry))
	}

	return keepMetered(chans, &issues), issues
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && toText(v) != "" {
			return v
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// NestedChannels
// ---------------------------------------------------------------------------

// NestedStrategy reads "in"/"out" objects (and their aliases) keyed by
// phase identifiers. Object values are spread into the channel; scalar
// values become the channel's "value".
type NestedStrategy struct{}

// Kind implements Strategy.
func (NestedStrategy) Kind() StrategyKind { return StrategyNested }

// Extract implements Strategy.
func (NestedStrategy) Extract(payload map[string]any) ([]ChannelRecord, []Issue) {
	var issues issueList
	var chans []ChannelRecord

	for _, term := range Terms {
		aliases := inAliases
		if term == TermOut {
			aliases = outAliases
		}
		obj, key := firstObject(payload, aliases)
		if obj == nil {
			continue
		}
		chans = append(chans, phaseChannels(term, key, obj, &issues)...)
	}

	return keepMetered(chans, &issues), issues
}

func firstObject(payload map[string]any, keys []string) (map[string]any, string) {
	for _, k := range keys {
		if obj, ok := payload[k].(map[string]any); ok && len(obj) > 0 {
			return obj, k
		}
	}
	return nil, ""
}

// phaseChannels maps the keys of a phase-keyed object to channels in phase
// order. When two keys name the same phase the lexically first one wins.
func phaseChannels(term Term, field string, obj map[string]any, issues *issueList) []ChannelRecord {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	byPhase := make(map[Phase]any, len(Phases))
	for _, k := range keys {
		phase, ok := ParsePhase(k)
		if !ok {
			issues.add(IssueUnknownPhase, field+"."+k, "")
			continue
		}
		if _, dup := byPhase[phase]; !dup {
			byPhase[phase] = obj[k]
		}
	}

	var chans []ChannelRecord
	for _, phase := range Phases {
		if v, ok := byPhase[phase]; ok {
			chans = append(chans, channelFromValue(term, phase, v))
		}
	}
	return chans
}

// ---------------------------------------------------------------------------
// PhaseDirect
// ---------------------------------------------------------------------------

// PhaseDirectStrategy reads top-level L1/L2/L3 fields (also l1 and ct1
// spellings) as input-side channels.
type PhaseDirectStrategy struct{}

// phaseDirectKeys lists the accepted spellings per phase.
var phaseDirectKeys = map[Phase][]string{
	PhaseL1: {"L1", "l1", "CT1", "ct1"},
	PhaseL2: {"L2", "l2", "CT2", "ct2"},
	PhaseL3: {"L3", "l3", "CT3", "ct3"},
}

// Kind implements Strategy.
func (PhaseDirectStrategy) Kind() StrategyKind { return StrategyPhaseDirect }

// Extract implements Strategy.
func (PhaseDirectStrategy) Extract(payload map[string]any) ([]ChannelRecord, []Issue) {
	var issues issueList
	var chans []ChannelRecord
	for _, phase := range Phases {
		for _, k := range phaseDirectKeys[phase] {
			v, ok := payload[k]
			if !ok || v == nil {
				continue
			}
			chans = append(chans, channelFromValue(TermIn, phase, v))
			break
		}
	}
	return keepMetered(chans, &issues), issues
}

// ---------------------------------------------------------------------------
// FlatPerPhase
// ---------------------------------------------------------------------------

// FlatPerPhaseStrategy resolves each metric of each term/phase pair
// independently, from flat field names such as in_a_l1, out_kw_L2 or
// in_power_factor_l3, falling back to {term: {phase: {...}}} nesting.
// A channel is emitted only when at least one metric resolved.
type FlatPerPhaseStrategy struct{}

// flatNames lists the field-name stems tried per metric.
var flatNames = struct {
	current, voltage, powerKW, powerFactor []string
}{
	current:     []string{"a", "i", "current", "amp"},
	voltage:     []string{"v", "u", "volt", "voltage"},
	powerKW:     []string{"kw", "p", "power", "pkw", "p_kw"},
	powerFactor: []string{"pf", "powerfactor", "power_factor"},
}

// Kind implements Strategy.
func (FlatPerPhaseStrategy) Kind() StrategyKind { return StrategyFlatPerPhase }

// Extract implements Strategy.
func (FlatPerPhaseStrategy) Extract(payload map[string]any) ([]ChannelRecord, []Issue) {
	var chans []ChannelRecord
	for _, term := range Terms {
		for _, phase := range Phases {
			nested := nestedPhase(payload, term, phase)
			ch := ChannelRecord{
				Term:        term,
				Phase:       phase,
				Current:     flatMetric(payload, nested, term, phase, flatNames.current, currentKeys),
				Voltage:     flatMetric(payload, nested, term, phase, flatNames.voltage, voltageKeys),
				PowerKW:     flatMetric(payload, nested, term, phase, flatNames.powerKW, powerKWKeys),
				PowerFactor: flatMetric(payload, nested, term, phase, flatNames.powerFactor, powerFactorKeys),
			}
			if !ch.HasMetric() {
				continue
			}
			ch.Fields = flatFields(ch)
			chans = append(chans, ch)
		}
	}
	return chans, nil
}

// flatCandidates returns the field names tried for one metric stem.
func flatCandidates(term Term, phase Phase, stem string) []string {
	t, lower, upper := string(term), lowerPhase(phase), string(phase)
	return []string{
		t + "_" + stem + "_" + lower,
		t + "_" + stem + lower,
		t + stem + "_" + lower,
		t + stem + lower,
		t + "_" + stem + "_" + upper,
		t + "_" + stem + upper,
	}
}

func lowerPhase(p Phase) string {
	switch p {
	case PhaseL1:
		return "l1"
	case PhaseL2:
		return "l2"
	default:
		return "l3"
	}
}

func flatMetric(payload, nested map[string]any, term Term, phase Phase, stems, aliases []string) *float64 {
	for _, stem := range stems {
		for _, key := range flatCandidates(term, phase, stem) {
			if v, ok := payload[key]; ok {
				if f, ok := toNumber(v); ok {
					return &f
				}
			}
		}
	}
	if nested != nil {
		return firstNumber(nested, aliases)
	}
	return nil
}

// nestedPhase returns payload[term][phase] when it is an object.
func nestedPhase(payload map[string]any, term Term, phase Phase) map[string]any {
	termObj, ok := payload[string(term)].(map[string]any)
	if !ok {
		return nil
	}
	for _, k := range []string{lowerPhase(phase), string(phase)} {
		if obj, ok := termObj[k].(map[string]any); ok {
			return obj
		}
	}
	return nil
}

// flatFields renders resolved metrics under their short keys.
func flatFields(ch ChannelRecord) map[string]any {
	fields := make(map[string]any, 4)
	if ch.Current != nil {
		fields["a"] = *ch.Current
	}
	if ch.Voltage != nil {
		fields["v"] = *ch.Voltage
	}
	if ch.PowerKW != nil {
		fields["kw"] = *ch.PowerKW
	}
	if ch.PowerFactor != nil {
		fields["pf"] = *ch.PowerFactor
	}
	return fields
}
