package loader

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/thunder/internal/units"
)

// attrKeys are the TOML keys that decode into attributes rather than child
// elements.
var attrKeys = map[string]bool{
	"name":    true,
	"version": true,
	"default": true,
}

// textKey holds the text content of a table-shaped element, e.g.
// symbol = [{ value = "kg", default = true }].
const textKey = "value"

// decodeTOML decodes the TOML rendering of a unitfile. The document must
// hold a single top-level table, which becomes the root element:
//
//	[unitfile]
//	name = "Units"
//	version = 1.0
//
//	[[unitfile.unitgroup]]
//	name = "Mass"
//
//	[[unitfile.unitgroup.unit]]
//	name = "kilogram"
//	multiply = "10^3"
//	symbol = [{ value = "kg", default = true }]
func decodeTOML(source string, data []byte) ([]*Node, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		fe := &units.UnitFileError{
			Source:  source,
			Message: "malformed document",
			Detail:  err.Error(),
			Err:     err,
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			fe.Line, fe.Column = derr.Position()
		}
		return nil, fe
	}

	if len(doc) == 0 {
		return nil, nil
	}
	if len(doc) > 1 {
		return nil, &units.UnitFileError{
			Source:  source,
			Message: fmt.Sprintf("document must hold a single root table, found %d top-level keys", len(doc)),
		}
	}

	var root *Node
	for key, value := range doc {
		table, ok := value.(map[string]any)
		if !ok {
			return nil, &units.UnitFileError{
				Source:  source,
				Message: fmt.Sprintf("root key '%s' is not a table", key),
			}
		}
		root = tableNode(key, table)
	}

	return []*Node{root}, nil
}

func tableNode(tag string, table map[string]any) *Node {
	n := &Node{Type: ElementNode, Tag: tag}

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := table[k]
		lk := strings.ToLower(k)

		switch val := v.(type) {
		case map[string]any:
			n.Children = append(n.Children, tableNode(k, val))
		case []any:
			for _, item := range val {
				n.Children = append(n.Children, valueNode(k, item))
			}
		case []map[string]any:
			for _, item := range val {
				n.Children = append(n.Children, tableNode(k, item))
			}
		default:
			s := scalarString(v)
			switch {
			case attrKeys[lk]:
				n.Attrs = append(n.Attrs, Attr{Name: k, Value: s})
			case lk == textKey:
				n.Text = trimText(s)
			default:
				n.Children = append(n.Children, &Node{Type: ElementNode, Tag: k, Text: trimText(s)})
			}
		}
	}

	return n
}

func valueNode(tag string, v any) *Node {
	if table, ok := v.(map[string]any); ok {
		return tableNode(tag, table)
	}
	return &Node{Type: ElementNode, Tag: tag, Text: trimText(scalarString(v))}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

func trimText(s string) string {
	return strings.TrimSpace(s)
}
