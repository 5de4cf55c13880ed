package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/models"
	"github.com/zmcp/odata-client/internal/uri"
)

func newURICmd() *cobra.Command {
	var rf resourceFlags
	cmd := &cobra.Command{
		Use:   "uri <entity-set>",
		Short: "Build and print a resource URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireServiceURL(); err != nil {
				return err
			}
			b, err := rf.apply(uri.New(cfg.ServiceURL, uri.WithKeyAsSegment(cfg.KeyAsSegment)), args[0])
			if err != nil {
				return err
			}
			if rf.links != "" {
				b.AppendLinksSegment(rf.links)
			}
			if rf.count {
				b.AppendCountSegment()
			}
			s, err := b.Build()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}

// outputFlags selects how fetched payloads are printed.
type outputFlags struct {
	format string
	level  string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "output", "o", "", "Output format: 'atom' or 'json' (default: the request format)")
	cmd.Flags().StringVar(&o.level, "output-metadata", "", "Output JSON metadata level (default: full)")
}

// resolve falls back to the session's format. Output defaults to full
// metadata so no type information is lost.
func (o *outputFlags) resolve(s *session) (codec.Format, codec.MetadataLevel, error) {
	name := o.format
	if name == "" {
		name = s.cfg.Format
	}
	f, err := codec.ParseFormat(name)
	if err != nil {
		return 0, 0, err
	}
	if o.level == "" || f == codec.FormatAtom {
		return f, codec.LevelFull, nil
	}
	l, err := codec.ParseLevel(o.level)
	return f, l, err
}

func newGetCmd() *cobra.Command {
	var (
		rf    resourceFlags
		out   outputFlags
		typed bool
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "get <entity-set>",
		Short: "Fetch an entity set, entity, property, count or link list and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			b, err := rf.apply(s.client.URI(), args[0])
			if err != nil {
				return err
			}
			if typed {
				if _, err := s.client.GetMetadata(ctx); err != nil {
					return err
				}
			}
			f, l, err := out.resolve(s)
			if err != nil {
				return err
			}
			enc := s.client.CodecFor(b.Resource(), f, l, codec.WithIndent(true))

			switch {
			case rf.count:
				n, err := s.client.GetCount(ctx, b)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, n)
				return nil
			case rf.value:
				res, err := s.client.GetValue(ctx, b)
				if err != nil {
					return err
				}
				s.logger.Debug("raw value", "content_type", res.ContentType, "bytes", len(res.Body))
				_, err = w.Write(res.Body)
				return err
			case rf.links != "":
				links, err := s.client.GetLinks(ctx, b, rf.links)
				if err != nil {
					return err
				}
				for _, l := range links {
					fmt.Fprintln(w, l)
				}
				return nil
			case rf.property != "":
				p, err := s.client.GetProperty(ctx, b)
				if err != nil {
					return err
				}
				data, err := enc.EncodeProperty(p)
				return write(w, data, err)
			case rf.addressesEntity():
				e, err := s.client.GetEntity(ctx, b)
				if err != nil {
					return err
				}
				data, err := enc.EncodeEntity(e)
				return write(w, data, err)
			}

			set, err := s.client.GetEntitySet(ctx, b)
			if err != nil {
				return err
			}
			for page := set; all && page.HasNext(); {
				if page, err = s.client.GetNextPage(ctx, b, page); err != nil {
					return err
				}
				s.logger.Debug("fetched page", "entities", len(page.Entities))
				set.Entities = append(set.Entities, page.Entities...)
				set.Next = page.Next
			}
			data, err := enc.EncodeEntitySet(set)
			return write(w, data, err)
		},
	}
	rf.register(cmd)
	out.register(cmd)
	cmd.Flags().BoolVar(&typed, "typed", false, "Fetch $metadata first so untyped JSON values decode to their declared types")
	cmd.Flags().BoolVar(&all, "all", false, "Follow next links and print every page as one feed")
	return cmd
}

func write(w io.Writer, data []byte, err error) error {
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func newCallCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "call <function-import>",
		Short: "Call a function import and print the raw response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			model, err := s.client.GetMetadata(ctx)
			if err != nil {
				return err
			}
			fi, ok := model.FunctionImport(args[0])
			if !ok {
				return fmt.Errorf("function import %s not found", args[0])
			}
			values, err := functionParameters(fi, params)
			if err != nil {
				return err
			}
			res, err := s.client.CallFunction(ctx, fi.Name, values)
			if err != nil {
				return err
			}
			s.logger.Debug("function result", "status", res.StatusCode, "content_type", res.ContentType)
			return write(cmd.OutOrStdout(), res.Body, nil)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter name=value, repeatable; values are parsed as the declared EDM type")
	return cmd
}

func functionParameters(fi *models.FunctionImport, params []string) (map[string]any, error) {
	types := make(map[string]string, len(fi.Parameters))
	for _, p := range fi.Parameters {
		types[p.Name] = p.Type
	}
	values := make(map[string]any, len(params))
	for _, param := range params {
		name, text, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected name=value", param)
		}
		typ, ok := types[name]
		if !ok {
			return nil, fmt.Errorf("function import %s has no parameter %q", fi.Name, name)
		}
		v, err := edm.FromTyped(typ, text)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

func newMetadataCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Fetch $metadata and summarise entity sets, types and function imports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			model, err := s.client.GetMetadata(cmd.Context())
			if err != nil {
				return err
			}
			md := model.Metadata()
			if asJSON {
				data, err := json.Marshal(md, json.Deterministic(true), jsontext.WithIndent("  "))
				return write(cmd.OutOrStdout(), data, err)
			}
			return printSummary(cmd.OutOrStdout(), md)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed model as JSON")
	return cmd
}

func printSummary(w io.Writer, md *models.ODataMetadata) error {
	sum := md.Summary()
	fmt.Fprintf(w, "Service:   %s\n", md.ServiceRoot)
	fmt.Fprintf(w, "Version:   %s\n", md.Version)
	fmt.Fprintf(w, "Container: %s\n", md.ContainerName)
	fmt.Fprintf(w, "%d entity sets, %d entity types, %d complex types, %d function imports\n\n",
		sum.EntitySets, sum.EntityTypes, sum.ComplexTypes, sum.FunctionImports)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY SET\tTYPE\tKEY\tNAVIGATION")
	for _, name := range sortedKeys(md.EntitySets) {
		set := md.EntitySets[name]
		var key, navs []string
		if et, ok := md.EntityTypes[set.EntityType]; ok {
			key = et.KeyProperties
			for _, n := range et.NavigationProps {
				navs = append(navs, n.Name)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", set.Name, set.EntityType, strings.Join(key, ","), strings.Join(navs, ","))
	}
	if len(md.FunctionImports) > 0 {
		fmt.Fprintln(tw, "\nFUNCTION IMPORT\tMETHOD\tRETURNS\tPARAMETERS")
		for _, name := range sortedKeys(md.FunctionImports) {
			fi := md.FunctionImports[name]
			params := make([]string, 0, len(fi.Parameters))
			for _, p := range fi.Parameters {
				params = append(params, p.Name+" "+p.Type)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", fi.Name, fi.HTTPMethod, fi.ReturnType, strings.Join(params, ", "))
		}
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
