package config

import "strings"

// normalizer provides type-safe string-to-enum normalization.
type normalizer[T comparable] struct {
	validValues  map[string]T
	defaultValue T
}

// newNormalizer creates a normalizer with a map of valid string->value pairs.
// Keys are lowercased and trimmed before lookup.
func newNormalizer[T comparable](values map[string]T, defaultValue T) *normalizer[T] {
	normalized := make(map[string]T, len(values))
	for k, v := range values {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &normalizer[T]{
		validValues:  normalized,
		defaultValue: defaultValue,
	}
}

// normalize converts a string to the enum type, falling back to the default
// when the string is not recognized.
func (n *normalizer[T]) normalize(raw string) T {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if value, exists := n.validValues[cleaned]; exists {
		return value
	}
	return n.defaultValue
}
