package transport

import (
	"slices"
	"strings"
)

// covers reports whether every topic matched by filter specific is also
// matched by filter general.
func covers(general, specific string) bool {
	gl := strings.Split(general, "/")
	sl := strings.Split(specific, "/")

	if len(sl) > 0 && strings.HasPrefix(sl[0], "$") && (gl[0] == "+" || gl[0] == "#") {
		return false
	}

	for i := 0; ; i++ {
		gEnd, sEnd := i >= len(gl), i >= len(sl)
		switch {
		case gEnd && sEnd:
			return true
		case gEnd:
			return false
		case sEnd:
			// "a/#" also matches "a"
			return i == len(gl)-1 && gl[i] == "#"
		}

		g, s := gl[i], sl[i]
		switch {
		case g == "#":
			return true
		case s == "#":
			return false
		case g == "+":
			continue
		case s == "+" || g != s:
			return false
		}
	}
}

// coveringFilters drops every filter already covered by another one, so a
// broker that sends one copy per matching subscription sends fewer copies.
func coveringFilters(filters []string) []string {
	uniq := slices.Compact(slices.Sorted(slices.Values(filters)))

	out := make([]string, 0, len(uniq))
	for i, f := range uniq {
		covered := false
		for j, g := range uniq {
			if i != j && covers(g, f) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, f)
		}
	}

	return out
}

// diffFilters returns the filters to subscribe and to unsubscribe to move
// from current to desired.
func diffFilters(current, desired []string) (add, remove []string) {
	for _, f := range desired {
		if !slices.Contains(current, f) {
			add = append(add, f)
		}
	}
	for _, f := range current {
		if !slices.Contains(desired, f) {
			remove = append(remove, f)
		}
	}
	return add, remove
}
