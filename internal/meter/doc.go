// Package meter converts raw metering payloads into canonical device snapshots.
//
// Metering devices report the same electrical quantities in many shapes:
// a ready-made channel array, nested input/output objects keyed by phase,
// flat per-phase fields at the top level, or a record from the bulk listing
// that carries the most recent payload underneath. This package hides all of
// that behind a single pure function:
//
//	snap := meter.Normalize(raw)
//	fmt.Println(snap.Identity, snap.ChannelCount, snap.SummaryValue)
//
// # Channel extraction
//
// Channels are extracted by an ordered list of strategies. The first one
// that yields at least one channel wins:
//
//  1. PreBuilt: a "channels" array
//  2. NestedChannels: "in"/"out" objects (and their aliases) keyed by phase
//  3. PhaseDirect: top-level L1/L2/L3 fields, input side only
//  4. FlatPerPhase: per-term, per-phase field names such as in_a_l1
//
// When none of them match, the same list is tried against a retained
// payload ("last_payload" or an object-valued "summary_value").
//
// A record nothing matches is still valid: it normalizes to a snapshot with
// an empty channel list. Normalization never fails and never mutates its
// input. Anything unusual it noticed is reported through Result.Issues.
//
// # Freshness
//
// Freshness is a function of arrival time only. See Thresholds.Classify.
package meter
