package meter

// Result is the outcome of normalizing one raw record.
type Result struct {
	Snapshot Snapshot
	Strategy StrategyKind
	Issues   []Issue
}

// Normalize converts a raw record into a canonical Snapshot.
//
// It is total: every input, including nil, yields a snapshot. Records whose
// shape is not recognised produce an empty channel list. The input is never
// mutated.
func Normalize(raw map[string]any) Snapshot {
	return NormalizeResult(raw).Snapshot
}

// NormalizeResult is Normalize with the winning strategy and the issues
// tolerated along the way.
//
// Parameters:
//   - raw: Decoded payload or bulk-listing record
//
// Returns:
//   - Result: Snapshot plus diagnostics
func NormalizeResult(raw map[string]any) Result {
	return NormalizeWith(raw, DefaultStrategies())
}

// NormalizeWith normalizes using a caller-supplied strategy list.
func NormalizeWith(raw map[string]any, strategies []Strategy) Result {
	if raw == nil {
		raw = map[string]any{}
	}

	var issues issueList

	identity := Identity(raw)
	if identity == "" {
		issues.add(IssueNoIdentity, "", "")
	}
	parts := TopicParts(raw)
	short, display := displayNames(raw, parts, identity)

	chans, kind, extractIssues := extractChannels(raw, strategies)
	issues = append(issues, extractIssues...)
	if len(chans) == 0 {
		issues.add(IssueNoChannels, "", "")
	}

	snap := Snapshot{
		Identity:     identity,
		DisplayName:  display,
		ShortName:    short,
		Parts:        parts,
		Channels:     chans,
		ChannelCount: len(chans),
		SummaryValue: summaryValue(raw, chans),
		Freshness:    FreshnessOffline,
	}

	return Result{
		Snapshot: snap,
		Strategy: kind,
		Issues:   issues,
	}
}

// summaryValue picks the headline number for a device: input L1 current,
// then a scalar summary_value, then a scalar value, else nil.
func summaryValue(raw map[string]any, chans []ChannelRecord) *float64 {
	for _, ch := range chans {
		if ch.Term == TermIn && ch.Phase == PhaseL1 && ch.Current != nil {
			v := *ch.Current
			return &v
		}
	}
	return firstNumber(raw, []string{"summary_value", "value"})
}
