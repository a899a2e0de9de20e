package loader

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/dshills/thunder/internal/units"
)

// NodeType distinguishes the nodes of a decoded document.
type NodeType int

const (
	// ElementNode is a tagged element.
	ElementNode NodeType = iota
	// CommentNode is a comment; the loader skips it.
	CommentNode
)

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is one node of a decoded definitions document. XML and TOML sources
// both decode into this tree so the loader walks a single model.
type Node struct {
	Type     NodeType
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
	Line     int
}

// Attr returns the value of the named attribute. Names match case-insensitively.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

// Is reports whether n is an element whose tag equals tag case-insensitively.
func (n *Node) Is(tag string) bool {
	return n.Type == ElementNode && strings.EqualFold(n.Tag, tag)
}

// Document is a decoded definitions source.
type Document struct {
	// Source is the path or name the document was read from.
	Source string
	// Format is the encoding the document was decoded from.
	Format Format
	// Nodes are the top-level nodes in document order.
	Nodes []*Node
}

// Root returns the single top-level element.
func (d *Document) Root() (*Node, bool) {
	for _, n := range d.Nodes {
		if n.Type == ElementNode {
			return n, true
		}
	}
	return nil, false
}

// Format is a definitions document encoding.
type Format int

const (
	// FormatAuto picks the format from the source name.
	FormatAuto Format = iota
	// FormatXML is the native unitfile XML format.
	FormatXML
	// FormatTOML is the TOML rendering of the same tree.
	FormatTOML
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatXML:
		return "xml"
	case FormatTOML:
		return "toml"
	default:
		return "unknown"
	}
}

// maxDecompressedSize bounds gzip input.
const maxDecompressedSize = 64 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// DetectFormat picks a format from the source name, ignoring a ".gz" suffix.
func DetectFormat(source string) Format {
	name := strings.ToLower(source)
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".toml", ".tml":
		return FormatTOML
	default:
		return FormatXML
	}
}

// Decode decodes data into a Document. Gzip-compressed input is detected by
// its magic bytes. Decode failures are returned as *units.UnitFileError.
func Decode(source string, data []byte, format Format) (*Document, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		raw, err := gunzip(data)
		if err != nil {
			return nil, &units.UnitFileError{
				Source:  source,
				Message: "cannot decompress units file",
				Detail:  err.Error(),
				Err:     err,
			}
		}
		data = raw
	}

	if format == FormatAuto {
		format = DetectFormat(source)
	}

	var (
		nodes []*Node
		err   error
	)
	switch format {
	case FormatTOML:
		nodes, err = decodeTOML(source, data)
	case FormatXML:
		nodes, err = decodeXML(source, data)
	default:
		return nil, &units.UnitFileError{Source: source, Message: fmt.Sprintf("unsupported format %s", format)}
	}
	if err != nil {
		return nil, err
	}

	return &Document{Source: source, Format: format, Nodes: nodes}, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed size exceeds %d bytes", maxDecompressedSize)
	}
	return raw, nil
}
