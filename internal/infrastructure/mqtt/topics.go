package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base for topics this service publishes.
const TopicPrefix = "meterhub"

// Topics provides builders for meterhub MQTT topics.
type Topics struct{}

// Status returns the retained online/offline topic for a client.
//
// Example: meterhub/meterhub-3f2a.../status
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// ValidateFilter checks an MQTT subscription filter.
//
// "+" must occupy a whole level and "#" must be the whole final level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q misplaced '#'", ErrInvalidFilter, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q misplaced '+'", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// MatchFilter reports whether topic matches the subscription filter.
func MatchFilter(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
