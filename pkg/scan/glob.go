// Glimpse lets clients list tracked image URIs by glob pattern (the Redis KEYS command); the following module
// implements glob matching over cache entries.

package scan

import (
	"iter"
	"strings"

	"github.com/nobletooth/glimpse/pkg/perf"
	"github.com/nobletooth/glimpse/pkg/utils"
	"v.io/v23/glob"
)

const (
	// matchAll is what Redis clients send to list every key.
	matchAll = "*"
	// recursiveSegment, as the last segment of a pattern, matches any number of remaining key segments.
	recursiveSegment = "..."
)

// pathPattern is a glob pattern compiled one "/"-separated segment at a time. URIs carry empty segments ("//") which
// glob.Parse rejects, so those are matched literally.
type pathPattern struct {
	segments  []*glob.Element // Nil for an empty segment.
	recursive bool
	valid     bool
}

// compilePattern splits `pattern` on "/" and parses every non-empty segment as a single glob element.
func compilePattern(pattern string) pathPattern {
	parts := strings.Split(pattern, "/")
	compiled := pathPattern{segments: make([]*glob.Element, 0, len(parts))}
	if len(parts) > 0 && parts[len(parts)-1] == recursiveSegment {
		compiled.recursive = true
		parts = parts[:len(parts)-1]
	}
	for _, part := range parts {
		if part == "" {
			compiled.segments = append(compiled.segments, nil)
			continue
		}
		parsed, err := glob.Parse(part)
		if err != nil || parsed.Len() != 1 || parsed.Recursive() {
			return pathPattern{}
		}
		compiled.segments = append(compiled.segments, parsed.Head())
	}
	compiled.valid = true
	return compiled
}

// compiledPatterns saves re-parsing the patterns clients list keys with over and over.
var compiledPatterns = perf.Memoize(compilePattern, perf.DefaultMemoTtl)

// match reports whether every "/"-separated segment of `key` matches the corresponding segment of the pattern.
func (p pathPattern) match(key string) bool {
	if !p.valid {
		return false
	}
	keySegments := strings.Split(key, "/")
	if len(keySegments) < len(p.segments) || (len(keySegments) > len(p.segments) && !p.recursive) {
		return false
	}
	for i, element := range p.segments {
		if element == nil {
			if keySegments[i] != "" {
				return false
			}
			continue
		}
		if !element.Match(keySegments[i]) {
			return false
		}
	}
	return true
}

// MatchGlob filters the `pairs` stream, keeping the pairs whose key matches the given `pattern`.
// Invalid patterns match nothing.
func MatchGlob[V any](pattern string, pairs iter.Seq[utils.Pair[string, V]]) iter.Seq[utils.Pair[string, V]] {
	if pattern == matchAll {
		return pairs
	}
	compiled := compiledPatterns(pattern)
	if !compiled.valid {
		return func(yield func(utils.Pair[string, V]) bool) {}
	}
	return func(yield func(utils.Pair[string, V]) bool) {
		for pair := range pairs {
			if compiled.match(pair.Key) {
				if !yield(pair) {
					return
				}
			}
		}
	}
}

// MatchingKeys collects the keys of `pairs` matching `pattern`, in stream order.
func MatchingKeys[V any](pattern string, pairs iter.Seq[utils.Pair[string, V]]) []string {
	keys := make([]string, 0)
	for pair := range MatchGlob(pattern, pairs) {
		keys = append(keys, pair.Key)
	}
	return keys
}
