package mapping

import (
	"fmt"
	"strings"
)

const (
	levelSeparator    = "/"
	singleLevel       = "+"
	multiLevel        = "#"
	maxTopicLength    = 65535
	systemTopicPrefix = '$'
)

// MatchTopic reports whether an MQTT topic matches a topic filter.
// Filters starting with a wildcard never match topics starting with '$'.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	fl := strings.Split(filter, levelSeparator)
	tl := strings.Split(topic, levelSeparator)

	if topic[0] == systemTopicPrefix && isWildcard(fl[0]) {
		return false
	}

	for i, f := range fl {
		if f == multiLevel {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f == singleLevel {
			continue
		}
		if f != tl[i] {
			return false
		}
	}

	return len(fl) == len(tl)
}

// ValidateFilter checks the wildcard placement rules of an MQTT topic filter.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter is empty")
	}
	if len(filter) > maxTopicLength {
		return fmt.Errorf("topic filter is longer than %d bytes", maxTopicLength)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("topic filter %q contains a null character", filter)
	}

	levels := strings.Split(filter, levelSeparator)
	for i, l := range levels {
		switch {
		case l == multiLevel && i != len(levels)-1:
			return fmt.Errorf("topic filter %q: '#' must be the last level", filter)
		case l != multiLevel && strings.Contains(l, multiLevel):
			return fmt.Errorf("topic filter %q: '#' must occupy a whole level", filter)
		case l != singleLevel && strings.Contains(l, singleLevel):
			return fmt.Errorf("topic filter %q: '+' must occupy a whole level", filter)
		}
	}

	return nil
}

// Overlaps reports whether at least one topic exists that matches both filters.
func Overlaps(a, b string) bool {
	al := strings.Split(a, levelSeparator)
	bl := strings.Split(b, levelSeparator)

	for i := 0; ; i++ {
		aEnd, bEnd := i >= len(al), i >= len(bl)
		switch {
		case aEnd && bEnd:
			return true
		case aEnd:
			return bl[i] == multiLevel
		case bEnd:
			return al[i] == multiLevel
		}

		x, y := al[i], bl[i]
		if i == 0 && (isSystem(x) && isWildcard(y) || isSystem(y) && isWildcard(x)) {
			return false
		}
		if x == multiLevel || y == multiLevel {
			return true
		}
		if x == singleLevel || y == singleLevel || x == y {
			continue
		}

		return false
	}
}

func isWildcard(level string) bool {
	return level == singleLevel || level == multiLevel
}

func isSystem(level string) bool {
	return level != "" && level[0] == systemTopicPrefix
}
