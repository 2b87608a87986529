package domain

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxTagLength is the maximum length of a tag label in characters.
const MaxTagLength = 255

// Tag attaches a label to an object. (ObjectID, Label) pairs form a set.
type Tag struct {
	ObjectID string `json:"object_id"`
	Label    string `json:"label"`
}

// NormalizeTag trims surrounding whitespace from a label and validates it.
func NormalizeTag(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", NewDomainError(ErrInvalidArgument, "tag must not be empty", "")
	}
	if utf8.RuneCountInString(label) > MaxTagLength {
		return "", NewDomainError(ErrInvalidArgument, "tag exceeds maximum length of 255 characters", label)
	}
	return label, nil
}

// NormalizeTags normalizes every label and returns the deduplicated set in
// ascending order.
func NormalizeTags(labels []string) ([]string, error) {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		n, err := NormalizeTag(l)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
