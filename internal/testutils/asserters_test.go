//go:build test

package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		fail     bool
	}{
		{
			name:     "identical objects",
			actual:   `{"id":"AA","rssi":-40}`,
			expected: `{"rssi":-40,"id":"AA"}`,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"id":"AA","rssi":-40,"name":"HR"}`,
			expected: `{"id":"AA"}`,
		},
		{
			name:     "extra keys reported when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"id":"AA","rssi":-40}`,
			expected: `{"id":"AA"}`,
			fail:     true,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"id":"AA","seen":"2025-01-01T00:00:00Z"}`,
			expected: `{"id":"AA","seen":"<<PRESENCE>>"}`,
		},
		{
			name:     "presence placeholder is literal when disabled",
			opts:     []Option{WithAllowPresencePlaceholder(false)},
			actual:   `{"id":"AA","seen":"2025-01-01T00:00:00Z"}`,
			expected: `{"id":"AA","seen":"<<PRESENCE>>"}`,
			fail:     true,
		},
		{
			name:     "ignored fields",
			opts:     []Option{WithIgnoredFields("seen")},
			actual:   `[{"id":"AA","seen":1},{"id":"BB","seen":2}]`,
			expected: `[{"id":"AA","seen":9},{"id":"BB"}]`,
		},
		{
			name:     "value mismatch",
			actual:   `{"id":"AA","rssi":-40}`,
			expected: `{"id":"AA","rssi":-41}`,
			fail:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fail, len(rec.failures) > 0, "failures: %v", rec.failures)
		})
	}
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		fail     bool
	}{
		{
			name:     "trailing whitespace ignored by default",
			actual:   "ID   NAME  \nAA   HR\n",
			expected: "ID   NAME\nAA   HR",
		},
		{
			name:     "trailing whitespace reported when not ignored",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(false)},
			actual:   "ID   NAME  \nAA   HR",
			expected: "ID   NAME\nAA   HR",
			fail:     true,
		},
		{
			name:     "surrounding blank lines matter without trimming",
			opts:     []TextOption{WithTrimSpace(false)},
			actual:   "\nAA   HR\n",
			expected: "AA   HR",
			fail:     true,
		},
		{
			name:     "empty lines ignored when enabled",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\nb",
			expected: "a\nb",
		},
		{
			name:     "content mismatch",
			actual:   "AA   HR",
			expected: "AA   Battery",
			fail:     true,
		},
		{
			name:     "coloured diff still fails",
			opts:     []TextOption{WithEnableColors(true)},
			actual:   "x",
			expected: "y",
			fail:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fail, len(rec.failures) > 0, "failures: %v", rec.failures)
		})
	}
}
