package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgv(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr error
	}{
		{input: "", want: nil},
		{input: "   ", want: nil},
		{input: "# wl-copy", want: nil},
		{input: "wl-copy", want: []string{"wl-copy"}},
		{input: "xclip -selection clipboard", want: []string{"xclip", "-selection", "clipboard"}},
		{input: `sh -c 'cat > "/tmp/notes dir/out.md"'`, want: []string{"sh", "-c", `cat > "/tmp/notes dir/out.md"`}},
		{input: `wl-copy --type "text/markdown"`, want: []string{"wl-copy", "--type", "text/markdown"}},
		{input: `copy ""`, want: []string{"copy", ""}},
		{input: `copy a\ b`, want: []string{"copy", "a b"}},
		{input: `copy 'a\b'`, want: []string{"copy", `a\b`}},
		{input: `copy "unterminated`, wantErr: errUnterminatedQuote},
		{input: `copy trailing\`, wantErr: errUnterminatedEscape},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseArgv(tc.input)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
