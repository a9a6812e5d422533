package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	IsVulnerability bool   `json:"is_vulnerability"`
	Reason          string `json:"reason"`
	Severity        string `json:"suggested_severity"`
}

func TestExtractAndParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    verdict
		wantErr bool
	}{
		{
			name:  "plain object",
			input: `{"is_vulnerability": true, "reason": "overflow", "suggested_severity": "High"}`,
			want:  verdict{true, "overflow", "High"},
		},
		{
			name:  "fenced with prose around",
			input: "Here is my analysis:\n```json\n{\"is_vulnerability\": false, \"reason\": \"bounded\"}\n```\nHope this helps.",
			want:  verdict{false, "bounded", ""},
		},
		{
			name:  "trailing text after object",
			input: `{"is_vulnerability": true, "reason": "x"} and some commentary {not json}`,
			want:  verdict{true, "x", ""},
		},
		{
			name:  "trailing comma",
			input: `{"is_vulnerability": true, "reason": "x",}`,
			want:  verdict{true, "x", ""},
		},
		{
			name:  "single quotes",
			input: `{'is_vulnerability': true, 'reason': 'it\'s reachable'}`,
			want:  verdict{true, "it's reachable", ""},
		},
		{
			name:  "python literals",
			input: `{"is_vulnerability": False, "reason": "dead code"}`,
			want:  verdict{false, "dead code", ""},
		},
		{
			name:  "raw newline inside string",
			input: "{\"is_vulnerability\": true, \"reason\": \"line one\nline two\"}",
			want:  verdict{true, "line one\nline two", ""},
		},
		{
			name:  "truncated output",
			input: `{"is_vulnerability": true, "reason": "strcpy into a fixed buf`,
			want:  verdict{true, "strcpy into a fixed buf", ""},
		},
		{
			name:  "json inside a json string",
			input: `"{\"is_vulnerability\": true, \"reason\": \"nested\"}"`,
			want:  verdict{true, "nested", ""},
		},
		{
			name:    "no json",
			input:   "I cannot determine this.",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAndParseJSON[verdict](tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractAndParseJSON_NoJSONSentinel(t *testing.T) {
	_, err := ExtractAndParseJSON[verdict]("nothing here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestCloseTruncated(t *testing.T) {
	assert.Equal(t, `{"a": [1, 2]}`, closeTruncated(`{"a": [1, 2`))
	assert.Equal(t, `{"a": "b"}`, closeTruncated(`{"a": "b`))
	assert.Equal(t, `{"a": "}"}`, closeTruncated(`{"a": "}"}`), "braces inside strings are ignored")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}
