package meter

import "strings"

// topicKeys are the fields that may carry a hierarchical topic.
var topicKeys = []string{"topic", "_topic", "device_topic", "_raw_topic"}

// nameKeys are the fallback identity fields, in priority order.
var nameKeys = []string{"device_display", "device_name", "name", "device", "device_id", "id"}

// displayDepth is the number of trailing topic segments used for display names.
const displayDepth = 3

// Identity derives the store key for a raw record.
//
// A slash-delimited topic wins. Otherwise the display name, device name,
// generic device/id fields and finally a non-hierarchical topic value are
// tried in that order. An empty string means the record has no identity.
func Identity(raw map[string]any) string {
	if parts := TopicParts(raw); len(parts) > 0 {
		return strings.Join(parts, "/")
	}
	for _, k := range nameKeys {
		if s := toText(raw[k]); s != "" {
			return s
		}
	}
	for _, k := range topicKeys {
		if s := toText(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

// TopicParts returns the non-empty segments of the first slash-delimited
// topic field, or nil when no topic field contains a slash.
func TopicParts(raw map[string]any) []string {
	for _, k := range topicKeys {
		s := toText(raw[k])
		if !strings.Contains(s, "/") {
			continue
		}
		if parts := SplitTopic(s); len(parts) > 0 {
			return parts
		}
	}
	return nil
}

// SplitTopic splits a topic on "/" and drops empty segments.
func SplitTopic(topic string) []string {
	var parts []string
	for _, p := range strings.Split(topic, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// displayNames computes short and display names.
//
// With topic parts the short name is the last segment and the display name
// joins the last three segments (fewer when the topic is shorter) with " / ".
func displayNames(raw map[string]any, parts []string, identity string) (short, display string) {
	if len(parts) > 0 {
		start := len(parts) - displayDepth
		if start < 0 {
			start = 0
		}
		return parts[len(parts)-1], strings.Join(parts[start:], " / ")
	}
	for _, k := range nameKeys {
		if s := toText(raw[k]); s != "" {
			return s, s
		}
	}
	return identity, identity
}
