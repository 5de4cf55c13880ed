package codec

import (
	"fmt"
	"mime"
	"strings"

	"github.com/zmcp/odata-client/internal/constants"
)

// Format is a wire format family.
type Format int

const (
	FormatAtom Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "atom"
}

// ParseFormat accepts "atom" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "atom", "xml":
		return FormatAtom, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}

// MetadataLevel controls how much metadata a JSON payload carries. Atom
// always carries full metadata.
type MetadataLevel int

const (
	LevelFull MetadataLevel = iota
	LevelMinimal
	LevelNone
)

var levelNames = map[MetadataLevel]string{
	LevelFull:    "full",
	LevelMinimal: "minimal",
	LevelNone:    "none",
}

func (l MetadataLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("MetadataLevel(%d)", int(l))
}

// ParseLevel accepts "full", "minimal" or "none" and the media type
// parameter spellings ("fullmetadata", ...).
func ParseLevel(s string) (MetadataLevel, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "metadata")
	for l, name := range levelNames {
		if s == name || (l == LevelNone && s == "no") {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown metadata level %q", s)
}

func (l MetadataLevel) mediaParam() string {
	switch l {
	case LevelMinimal:
		return "minimalmetadata"
	case LevelNone:
		return "nometadata"
	}
	return "fullmetadata"
}

// ContentType returns the media type requesting f at level l.
func ContentType(f Format, l MetadataLevel) string {
	if f == FormatAtom {
		return constants.ContentTypeAtomXML
	}
	return constants.ContentTypeJSON + ";odata=" + l.mediaParam()
}

// ParseContentType maps a response Content-Type onto a format and level.
// application/json without an odata parameter is minimal metadata, the
// v3 default. Plain application/xml is read as Atom.
func ParseContentType(ct string) (Format, MetadataLevel, error) {
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return 0, 0, fmt.Errorf("content type %q: %w", ct, err)
	}
	switch mediaType {
	case constants.ContentTypeAtomXML, constants.ContentTypeXML:
		return FormatAtom, LevelFull, nil
	case constants.ContentTypeJSON:
		odata, ok := params["odata"]
		if !ok {
			return FormatJSON, LevelMinimal, nil
		}
		if odata == "verbose" {
			return 0, 0, fmt.Errorf("content type %q: verbose JSON is not supported", ct)
		}
		l, err := ParseLevel(odata)
		if err != nil {
			return 0, 0, fmt.Errorf("content type %q: %w", ct, err)
		}
		return FormatJSON, l, nil
	}
	return 0, 0, fmt.Errorf("content type %q is not an OData payload", ct)
}
