package fileutils_test

import (
	"strings"
	"testing"

	"github.com/pixeldepot/pixeldepot/internal/fileutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	t.Parallel()

	type st struct {
		Str string
		I   int
	}

	tests := map[string]struct {
		input string

		want    st
		wantErr bool
	}{
		"Object": {
			input: `{"Str": "test", "I": 1}`,
			want:  st{Str: "test", I: 1},
		},
		"Object with unknown fields": {
			input: `{"Str": "test", "Extra": true}`,
			want:  st{Str: "test"},
		},

		// Error cases
		"Empty input": {
			input:   "",
			wantErr: true,
		},
		"Junk data": {
			input:   `"some junk data"`,
			wantErr: true,
		},
		"Truncated JSON": {
			input:   `{"Str": `,
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var got st
			err := fileutils.ParseJSON(strings.NewReader(tc.input), &got)
			if tc.wantErr {
				require.Error(t, err, "expected error but got none")
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tc.want, got, "parsed data should match expected value")
		})
	}
}
