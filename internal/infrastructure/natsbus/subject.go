package natsbus

import (
	"fmt"
	"strings"
)

// FilterToSubject translates an MQTT-style filter into a NATS subject.
//
//	th/#           -> th.>
//	th/+/+/meter   -> th.*.*.meter
func FilterToSubject(filter string) (string, error) {
	if filter == "" {
		return "", ErrInvalidFilter
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "":
			return "", fmt.Errorf("%w: %q has an empty level", ErrInvalidFilter, filter)
		case level == "#":
			if i != len(levels)-1 {
				return "", fmt.Errorf("%w: %q misplaced '#'", ErrInvalidFilter, filter)
			}
			levels[i] = ">"
		case level == "+":
			levels[i] = "*"
		case strings.ContainsAny(level, "#+.*> "):
			return "", fmt.Errorf("%w: %q level %q", ErrInvalidFilter, filter, level)
		}
	}
	return strings.Join(levels, "."), nil
}

// SubjectToTopic converts a NATS subject into a "/"-separated topic.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
