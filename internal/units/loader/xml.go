package loader

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/dshills/thunder/internal/units"
)

// decodeXML decodes a unitfile XML document, keeping comments and the
// document order of every element.
func decodeXML(source string, data []byte) ([]*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charsetReader

	var (
		top   []*Node
		stack []*Node
		roots int
	)

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, col := d.InputPos()
			return nil, &units.UnitFileError{
				Source:  source,
				Line:    line,
				Column:  col,
				Message: "malformed document",
				Detail:  err.Error(),
				Err:     err,
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := d.InputPos()
			n := &Node{Type: ElementNode, Tag: t.Name.Local, Line: line}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}

			if len(stack) == 0 {
				roots++
				if roots > 1 {
					line, col := d.InputPos()
					return nil, &units.UnitFileError{
						Source:  source,
						Line:    line,
						Column:  col,
						Message: fmt.Sprintf("multiple root elements (found '%s')", t.Name.Local),
					}
				}
				top = append(top, n)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)

		case xml.EndElement:
			n := stack[len(stack)-1]
			n.Text = trimText(n.Text)
			stack = stack[:len(stack)-1]

		case xml.CharData:
			// Text accumulates on every open element, matching inner-text semantics.
			for _, n := range stack {
				n.Text += string(t)
			}

		case xml.Comment:
			c := &Node{Type: CommentNode, Text: string(t)}
			if len(stack) == 0 {
				top = append(top, c)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, c)
			}
		}
	}

	return top, nil
}

// charsetReader converts legacy encodings declared in the XML prolog.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
