package meter

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the meter package.
var (
	// ErrInvalidThresholds is returned when freshness thresholds are unusable.
	ErrInvalidThresholds = errors.New("meter: invalid freshness thresholds")

	// ErrUnknownFreshness is returned when parsing an unrecognised freshness level.
	ErrUnknownFreshness = errors.New("meter: unknown freshness")
)

// IssueKind names a recoverable anomaly noticed while normalizing.
type IssueKind string

// Issue kinds.
const (
	IssueNoIdentity     IssueKind = "no_identity"
	IssueNoChannels     IssueKind = "no_channels"
	IssueMetricless     IssueKind = "channel_without_metric"
	IssueUnknownPhase   IssueKind = "unknown_phase"
	IssueUnknownTerm    IssueKind = "unknown_term"
	IssueMalformedEntry IssueKind = "malformed_channel_entry"
)

// Issue describes something the normalizer tolerated. Issues never stop
// normalization; they exist for logging and metrics.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Field  string    `json:"field,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// String implements fmt.Stringer.
func (i Issue) String() string {
	switch {
	case i.Field != "" && i.Detail != "":
		return fmt.Sprintf("%s (%s): %s", i.Kind, i.Field, i.Detail)
	case i.Field != "":
		return fmt.Sprintf("%s (%s)", i.Kind, i.Field)
	default:
		return string(i.Kind)
	}
}

// issueList collects issues during one extraction.
type issueList []Issue

func (l *issueList) add(kind IssueKind, field, detail string) {
	*l = append(*l, Issue{Kind: kind, Field: field, Detail: detail})
}
