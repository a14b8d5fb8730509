// =============================================================================
// Reinf Transmitter - XML Writer Module
// =============================================================================
//
// This module builds labeled element trees and renders them to text. The event
// builders use it to produce the unsigned event document.
//
// XML STRUCTURE (example, per-row event):
//
//   <?xml version="1.0" encoding="UTF-8"?>
//   <Reinf>
//     <evt4010 id="ID1123456780001992025010000001">
//       <ideEvento>
//         <indRetif>1</indRetif>
//         <perApur>2025-01</perApur>
//       </ideEvento>
//       <infoPgto>...</infoPgto>
//     </evt4010>
//   </Reinf>
//
// RENDERING RULES:
//   - Child order and attribute order are preserved exactly as built.
//   - Elements without text and children are written self-closing.
//   - The output is byte-for-byte deterministic for a given tree; the
//     signature covers its canonical form.
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"fmt"
	"strings"
)

// =============================================================================
// RENDER OPTIONS
// =============================================================================

// Options controls rendering. The zero value writes no declaration and no
// indentation.
type Options struct {
	Indent string

	// IncludeXMLDeclaration writes <?xml version=... encoding=...?> first.
	IncludeXMLDeclaration bool
	XMLVersion            string
	Encoding              string
}

// DefaultOptions returns the default render options.
func DefaultOptions() Options {
	return Options{
		Indent:                "  ",
		IncludeXMLDeclaration: true,
		XMLVersion:            "1.0",
		Encoding:              "UTF-8",
	}
}

// =============================================================================
// ELEMENT TREE
// =============================================================================

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Element is a node of the document tree. An element carries either text or
// children; when both are set, text wins on rendering.
type Element struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// NewElement creates a detached element.
func NewElement(name string) *Element {
	return &Element{Name: name}
}

// SetAttr sets an attribute, replacing an existing one with the same name,
// and returns e.
func (e *Element) SetAttr(name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

// AttrValue returns the value of an attribute, or "" if absent.
func (e *Element) AttrValue(name string) string {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// Child appends a new child element and returns it.
func (e *Element) Child(name string) *Element {
	c := NewElement(name)
	e.Children = append(e.Children, c)
	return c
}

// Leaf appends a text child and returns e, so leaves can be chained.
func (e *Element) Leaf(name, text string) *Element {
	c := e.Child(name)
	c.Text = text
	return e
}

// Find returns the first direct child with the given name.
func (e *Element) Find(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given name.
func (e *Element) FindAll(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path follows a chain of child names from e.
func (e *Element) Path(names ...string) *Element {
	cur := e
	for _, n := range names {
		if cur = cur.Find(n); cur == nil {
			return nil
		}
	}
	return cur
}

// =============================================================================
// RENDERING
// =============================================================================

// Render writes the tree rooted at root using the default options.
func Render(root *Element) []byte {
	return RenderWithOptions(root, DefaultOptions())
}

// RenderWithOptions writes the tree rooted at root.
func RenderWithOptions(root *Element, options Options) []byte {
	r := renderer{indent: options.Indent}
	if options.IncludeXMLDeclaration {
		fmt.Fprintf(&r.out, "<?xml version=%q encoding=%q?>\n", options.XMLVersion, options.Encoding)
	}
	r.element(root, 0)
	return r.out.Bytes()
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

type renderer struct {
	out    bytes.Buffer
	indent string
}

// element writes e on its own line. Text elements stay on one line; parents
// close on a line of their own.
func (r *renderer) element(e *Element, depth int) {
	pad := strings.Repeat(r.indent, depth)

	r.out.WriteString(pad + "<" + e.Name)
	for _, a := range e.Attrs {
		r.out.WriteString(" " + a.Name + `="`)
		attrEscaper.WriteString(&r.out, a.Value)
		r.out.WriteByte('"')
	}

	switch {
	case e.Text != "":
		r.out.WriteByte('>')
		textEscaper.WriteString(&r.out, e.Text)
	case len(e.Children) > 0:
		r.out.WriteString(">\n")
		for _, c := range e.Children {
			r.element(c, depth+1)
		}
		r.out.WriteString(pad)
	default:
		r.out.WriteString("/>\n")
		return
	}

	r.out.WriteString("</" + e.Name + ">\n")
}
