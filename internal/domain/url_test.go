package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ParsedURL
	}{
		{
			name: "gallery",
			in:   "https://e-hentai.org/g/2552845/2f6a6d6a1e/",
			want: ParsedURL{Type: URLTypeGallery, GID: 2552845, Token: "2f6a6d6a1e"},
		},
		{
			name: "exhentai mpv",
			in:   "https://exhentai.org/mpv/1001/abcd1234",
			want: ParsedURL{Type: URLTypeMPV, GID: 1001, Token: "abcd1234"},
		},
		{
			name: "single page",
			in:   "https://e-hentai.org/s/0123456789/1001-7",
			want: ParsedURL{Type: URLTypeSingle, GID: 1001, Token: "0123456789", Index: 7},
		},
		{
			name: "relative path",
			in:   "/g/1001/abcd1234/",
			want: ParsedURL{Type: URLTypeGallery, GID: 1001, Token: "abcd1234"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}

	t.Run("rejects other hosts", func(t *testing.T) {
		_, err := ParseURL("https://example.com/g/1/abc")
		assert.ErrorIs(t, err, ErrInvalidURL)
	})

	t.Run("rejects unrelated paths", func(t *testing.T) {
		_, err := ParseURL("https://e-hentai.org/popular")
		assert.ErrorIs(t, err, ErrInvalidURL)
	})
}
