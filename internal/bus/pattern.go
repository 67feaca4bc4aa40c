package bus

import "strings"

const (
	separator   = ":"
	wildcardOne = "*"
	wildcardAll = ">"
)

// Match reports whether topic matches pattern. Segments are separated
// by ':'; '*' matches exactly one segment and a trailing '>' matches
// one or more remaining segments.
func Match(pattern, topic string) bool {
	return matchSegments(splitTopic(pattern), splitTopic(topic))
}

func splitTopic(topic string) []string {
	return strings.Split(topic, separator)
}

func matchSegments(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == wildcardAll && i == len(pattern)-1 {
			return len(topic) > i
		}
		if i >= len(topic) {
			return false
		}
		if p != wildcardOne && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// topicPrefix returns the first segment of a topic, used as a bounded
// metric label.
func topicPrefix(topic string) string {
	if i := strings.Index(topic, separator); i >= 0 {
		return topic[:i]
	}
	return topic
}
