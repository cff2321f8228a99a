// Package filter implements the multi-needle, multi-field matcher shared by
// every query endpoint.
package filter

import "strings"

// FuzzyMarker prefixes a needle that should match as a case-insensitive
// substring instead of by exact equality.
const FuzzyMarker = "~"

// Search returns the records of haystack that match at least one needle.
//
// values projects a record onto its candidate strings. A needle starting with
// FuzzyMarker matches when any lower-cased value contains it; any other needle
// matches by exact equality after trimming. or, when non-nil, is consulted for
// every original needle and lets call sites accept symbolic codes such as
// "parkCity" that do not appear in the projected values.
//
// When no usable needle remains after trimming the haystack is returned as is.
func Search[R any](needles []string, haystack []R, values func(R) []string, or func(R, string) bool) []R {
	exact := make(map[string]struct{})
	var fuzzy []string
	seenFuzzy := make(map[string]struct{})
	for _, needle := range needles {
		if strings.HasPrefix(needle, FuzzyMarker) {
			f := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(needle, FuzzyMarker)))
			if f == "" {
				continue
			}
			if _, dup := seenFuzzy[f]; !dup {
				seenFuzzy[f] = struct{}{}
				fuzzy = append(fuzzy, f)
			}
			continue
		}
		if e := strings.TrimSpace(needle); e != "" {
			exact[e] = struct{}{}
		}
	}
	if len(exact) == 0 && len(fuzzy) == 0 {
		return haystack
	}

	out := make([]R, 0, len(haystack))
	for _, record := range haystack {
		if matchValues(values(record), exact, fuzzy) || matchOr(record, needles, or) {
			out = append(out, record)
		}
	}
	return out
}

func matchValues(values []string, exact map[string]struct{}, fuzzy []string) bool {
	for _, value := range values {
		if _, ok := exact[value]; ok {
			return true
		}
		lower := strings.ToLower(value)
		for _, f := range fuzzy {
			if strings.Contains(lower, f) {
				return true
			}
		}
	}
	return false
}

func matchOr[R any](record R, needles []string, or func(R, string) bool) bool {
	if or == nil {
		return false
	}
	for _, needle := range needles {
		if or(record, needle) {
			return true
		}
	}
	return false
}
