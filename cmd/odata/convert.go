package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/metadata"
)

// Payload kinds convert understands.
const (
	kindEntity   = "entity"
	kindFeed     = "feed"
	kindProperty = "property"
	kindLinks    = "links"
)

type convertFlags struct {
	from         string
	fromLevel    string
	to           string
	toLevel      string
	kind         string
	entitySet    string
	entityType   string
	metadataFile string
}

func newConvertCmd() *cobra.Command {
	var cf convertFlags
	cmd := &cobra.Command{
		Use:   "convert <file|->",
		Short: "Re-encode an Atom or JSON payload in another format or metadata level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			opts := []codec.Option{codec.WithLegacyDates(cfg.LegacyDates)}
			if cfg.ServiceURL != "" {
				opts = append(opts, codec.WithServiceRoot(cfg.ServiceURL))
			}
			if cf.metadataFile != "" {
				raw, err := os.ReadFile(cf.metadataFile)
				if err != nil {
					return err
				}
				model, err := metadata.Load(raw, cfg.ServiceURL)
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", cf.metadataFile, err)
				}
				opts = append(opts, codec.WithMetadata(model))
			}
			if cf.entitySet != "" {
				opts = append(opts, codec.WithEntitySet(cf.entitySet))
			}
			if cf.entityType != "" {
				opts = append(opts, codec.WithEntityType(cf.entityType))
			}

			from, err := cf.source(data)
			if err != nil {
				return err
			}
			to, err := cf.target()
			if err != nil {
				return err
			}
			kind := cf.kind
			if kind == "" {
				kind = detectKind(from.Format(), data)
			}
			logger.Debug("converting payload", "kind", kind,
				"from", from.ContentType(), "to", to.ContentType())

			out, err := convert(kind, data, codec.New(from.Format(), from.Level(), opts...),
				codec.New(to.Format(), to.Level(), append(opts, codec.WithIndent(true))...))
			return write(cmd.OutOrStdout(), out, err)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&cf.from, "from", "", "Input format: 'atom' or 'json' (default: detected)")
	fl.StringVar(&cf.fromLevel, "from-metadata", "", "Input JSON metadata level (default: from odata.metadata presence)")
	fl.StringVar(&cf.to, "to", "json", "Output format: 'atom' or 'json'")
	fl.StringVar(&cf.toLevel, "to-metadata", "full", "Output JSON metadata level")
	fl.StringVar(&cf.kind, "kind", "", "Payload kind: entity, feed, property or links (default: detected)")
	fl.StringVar(&cf.entitySet, "entity-set", "", "Entity set the payload belongs to")
	fl.StringVar(&cf.entityType, "entity-type", "", "Entity type of entries that do not declare one")
	fl.StringVar(&cf.metadataFile, "metadata-file", "", "$metadata document used to type the payload")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// formatLevel is a format at a metadata level.
type formatLevel struct {
	f codec.Format
	l codec.MetadataLevel
}

func (fl formatLevel) Format() codec.Format       { return fl.f }
func (fl formatLevel) Level() codec.MetadataLevel { return fl.l }
func (fl formatLevel) ContentType() string        { return codec.ContentType(fl.f, fl.l) }

func (cf *convertFlags) source(data []byte) (formatLevel, error) {
	name := cf.from
	if name == "" {
		name = "json"
		if first := bytes.TrimLeft(data, " \t\r\n\ufeff"); len(first) > 0 && first[0] == '<' {
			name = "atom"
		}
	}
	f, err := codec.ParseFormat(name)
	if err != nil {
		return formatLevel{}, err
	}
	if f == codec.FormatAtom {
		return formatLevel{f, codec.LevelFull}, nil
	}
	if cf.fromLevel != "" {
		l, err := codec.ParseLevel(cf.fromLevel)
		return formatLevel{f, l}, err
	}
	switch {
	case containsMember(data, constants.JSONID), containsMember(data, constants.JSONEditLink):
		return formatLevel{f, codec.LevelFull}, nil
	case containsMember(data, constants.JSONMetadata):
		return formatLevel{f, codec.LevelMinimal}, nil
	}
	return formatLevel{f, codec.LevelNone}, nil
}

func containsMember(data []byte, name string) bool {
	return bytes.Contains(data, []byte(`"`+name+`"`))
}

func (cf *convertFlags) target() (formatLevel, error) {
	f, err := codec.ParseFormat(cf.to)
	if err != nil {
		return formatLevel{}, err
	}
	if f == codec.FormatAtom {
		return formatLevel{f, codec.LevelFull}, nil
	}
	l, err := codec.ParseLevel(cf.toLevel)
	return formatLevel{f, l}, err
}

// detectKind guesses the payload kind from the document root: the Atom
// root element, or the top-level JSON members.
func detectKind(f codec.Format, data []byte) string {
	if f == codec.FormatAtom {
		dec := xml.NewDecoder(bytes.NewReader(data))
		for {
			tok, err := dec.Token()
			if err != nil {
				return kindEntity
			}
			if se, ok := tok.(xml.StartElement); ok {
				switch se.Name.Local {
				case "feed":
					return kindFeed
				case "entry":
					return kindEntity
				case "links", "uri":
					return kindLinks
				}
				return kindProperty
			}
		}
	}

	var members map[string]jsontext.Value
	if err := json.Unmarshal(data, &members); err != nil {
		return kindEntity
	}
	if _, ok := members[constants.JSONUrl]; ok && len(members) <= 2 {
		return kindLinks
	}
	value, ok := members[constants.JSONValue]
	if !ok {
		return kindEntity
	}
	var items []jsontext.Value
	if json.Unmarshal(value, &items) != nil {
		return kindProperty
	}
	if len(items) > 0 && items[0].Kind() == '{' {
		var first map[string]jsontext.Value
		if json.Unmarshal(items[0], &first) == nil {
			if _, isLink := first[constants.JSONUrl]; isLink && len(first) == 1 {
				return kindLinks
			}
		}
		return kindFeed
	}
	// an empty array is read as a feed; a collection property of
	// primitives has non-object items
	if len(items) == 0 {
		return kindFeed
	}
	return kindProperty
}

func convert(kind string, data []byte, from, to codec.Codec) ([]byte, error) {
	switch kind {
	case kindEntity:
		e, err := from.DecodeEntity(data)
		if err != nil {
			return nil, err
		}
		return to.EncodeEntity(e)
	case kindFeed:
		set, err := from.DecodeEntitySet(data)
		if err != nil {
			return nil, err
		}
		return to.EncodeEntitySet(set)
	case kindProperty:
		p, err := from.DecodeProperty(data)
		if err != nil {
			return nil, err
		}
		return to.EncodeProperty(p)
	case kindLinks:
		refs, err := from.DecodeReferences(data)
		if err != nil {
			return nil, err
		}
		if len(refs) != 1 {
			return nil, errors.New("only single $links references can be re-encoded")
		}
		return to.EncodeReference(refs[0])
	}
	return nil, fmt.Errorf("unknown payload kind %q", kind)
}
