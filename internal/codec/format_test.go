package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatAndLevel(t *testing.T) {
	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("xml")
	require.NoError(t, err)
	assert.Equal(t, FormatAtom, f)

	_, err = ParseFormat("verbose")
	assert.Error(t, err)

	for input, want := range map[string]MetadataLevel{
		"full":            LevelFull,
		"minimalmetadata": LevelMinimal,
		"nometadata":      LevelNone,
		"None":            LevelNone,
	} {
		l, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, l, input)
	}
	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		format Format
		level  MetadataLevel
		want   string
	}{
		{FormatAtom, LevelNone, "application/atom+xml"},
		{FormatJSON, LevelFull, "application/json;odata=fullmetadata"},
		{FormatJSON, LevelMinimal, "application/json;odata=minimalmetadata"},
		{FormatJSON, LevelNone, "application/json;odata=nometadata"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.format, tt.level))

			f, l, err := ParseContentType(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			if f == FormatJSON {
				assert.Equal(t, tt.level, l)
			}
		})
	}
}

func TestParseContentType(t *testing.T) {
	tests := []struct {
		header  string
		format  Format
		level   MetadataLevel
		wantErr bool
	}{
		{header: "application/json", format: FormatJSON, level: LevelMinimal},
		{header: "application/json; charset=utf-8; odata=fullmetadata", format: FormatJSON, level: LevelFull},
		{header: "application/atom+xml;type=feed;charset=utf-8", format: FormatAtom, level: LevelFull},
		{header: "application/xml", format: FormatAtom, level: LevelFull},
		{header: "application/json;odata=verbose", wantErr: true},
		{header: "text/html", wantErr: true},
		{header: ";;", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			f, l, err := ParseContentType(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.Equal(t, tt.level, l)
		})
	}
}
