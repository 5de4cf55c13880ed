package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// node is a parsed XML element with namespace-resolved names.
type node struct {
	name     xml.Name
	attrs    []xml.Attr
	children []*node
	text     strings.Builder
}

func (n *node) is(space, local string) bool {
	return n.name.Space == space && n.name.Local == local
}

// attr returns the attribute value and whether it was present.
func (n *node) attr(space, local string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) attrValue(space, local string) string {
	v, _ := n.attr(space, local)
	return v
}

func (n *node) child(space, local string) *node {
	for _, c := range n.children {
		if c.is(space, local) {
			return c
		}
	}
	return nil
}

func (n *node) childrenNamed(space, local string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.is(space, local) {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) Text() string {
	return n.text.String()
}

// parseTree reads the single root element of data.
func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DeserializationError{Format: FormatAtom, Fragment: excerpt(data, dec.InputOffset()), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name, attrs: t.Copy().Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root != nil {
				return nil, &DeserializationError{Format: FormatAtom, Fragment: excerpt(data, dec.InputOffset()), Err: errors.New("multiple root elements")}
			} else {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, &DeserializationError{Format: FormatAtom, Fragment: excerpt(data, 0), Err: errors.New("no root element")}
	}
	return root, nil
}

// xmlWriter emits prefixed elements through encoding/xml. Names are
// written verbatim ("m:properties"), with the namespace declarations put
// on the root element by the caller.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func newXMLWriter(w io.Writer, indent bool) *xmlWriter {
	enc := xml.NewEncoder(w)
	if indent {
		enc.Indent("", "  ")
	}
	return &xmlWriter{enc: enc}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (w *xmlWriter) start(name string, attrs ...xml.Attr) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *xmlWriter) end(name string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) text(s string) {
	if w.err != nil || s == "" {
		return
	}
	w.err = w.enc.EncodeToken(xml.CharData(s))
}

// element writes <name attrs>text</name>.
func (w *xmlWriter) element(name, text string, attrs ...xml.Attr) {
	w.start(name, attrs...)
	w.text(text)
	w.end(name)
}

func (w *xmlWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}
