package exchange

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// XML element names.
const (
	xmlRoot     = "onepai_export"
	xmlMeta     = "export_metadata"
	xmlArchives = "archives"
	xmlItem     = "item"
)

// xmlCodec renders documents as nested elements under a fixed root.
// Sequences become repeated <item> elements. Scalar types are narrowed on
// decode (bool, number, string), so exact numeric types do not survive.
type xmlCodec struct{}

func (xmlCodec) Format() Format { return FormatXML }

func (xmlCodec) Encode(w io.Writer, env *Envelope) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	if err := encodeStart(enc, xmlRoot); err != nil {
		return err
	}

	if err := encodeStart(enc, xmlMeta); err != nil {
		return err
	}
	meta := map[string]any{
		"timestamp":        env.Meta.Timestamp.UTC().Format(time.RFC3339Nano),
		"version":          env.Meta.Version,
		"format":           env.Meta.Format,
		"include_metadata": env.Meta.IncludeMetadata,
	}
	if err := encodeValue(enc, meta); err != nil {
		return err
	}
	if err := encodeEnd(enc, xmlMeta); err != nil {
		return err
	}

	if err := encodeStart(enc, xmlArchives); err != nil {
		return err
	}
	names := make([]string, 0, len(env.Archives))
	for name := range env.Archives {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		elem := elemName(name)
		if err := encodeStart(enc, elem); err != nil {
			return err
		}
		for _, doc := range env.Archives[name] {
			if err := encodeStart(enc, xmlItem); err != nil {
				return err
			}
			if err := encodeValue(enc, map[string]any(doc)); err != nil {
				return err
			}
			if err := encodeEnd(enc, xmlItem); err != nil {
				return err
			}
		}
		if err := encodeEnd(enc, elem); err != nil {
			return err
		}
	}
	if err := encodeEnd(enc, xmlArchives); err != nil {
		return err
	}

	if err := encodeEnd(enc, xmlRoot); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("exchange: failed to flush xml: %w", err)
	}
	return nil
}

func (xmlCodec) Decode(r io.Reader) (*Envelope, error) {
	dec := xml.NewDecoder(r)

	root, err := nextElement(dec)
	if err != nil {
		return nil, fmt.Errorf("exchange: failed to decode xml: %w", err)
	}
	if root == nil || root.name != xmlRoot {
		return nil, fmt.Errorf("exchange: unexpected xml root element")
	}

	env := &Envelope{Archives: map[string][]Document{}}
	for _, child := range root.children {
		switch child.name {
		case xmlMeta:
			decodeMeta(child, &env.Meta)
		case xmlArchives:
			for _, archiveNode := range child.children {
				docs := make([]Document, 0, len(archiveNode.children))
				for _, itemNode := range archiveNode.children {
					if itemNode.name != xmlItem {
						continue
					}
					if m, ok := nodeValue(itemNode).(map[string]any); ok {
						docs = append(docs, Document(m))
					}
				}
				env.Archives[archiveNode.name] = docs
			}
		}
	}
	return env, nil
}

// decodeMeta fills the envelope metadata from its parsed element.
func decodeMeta(node *xmlNode, meta *EnvelopeMeta) {
	for _, child := range node.children {
		text := strings.TrimSpace(child.text)
		switch child.name {
		case "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
				meta.Timestamp = ts
			}
		case "version":
			meta.Version = text
		case "format":
			meta.Format = text
		case "include_metadata":
			meta.IncludeMetadata = text == "true"
		}
	}
}

// encodeValue writes a decoded JSON tree as nested elements. Mapping keys
// are emitted sorted so output is deterministic.
func encodeValue(enc *xml.Encoder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			elem := elemName(k)
			if err := encodeStart(enc, elem); err != nil {
				return err
			}
			if err := encodeValue(enc, t[k]); err != nil {
				return err
			}
			if err := encodeEnd(enc, elem); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, e := range t {
			if err := encodeStart(enc, xmlItem); err != nil {
				return err
			}
			if err := encodeValue(enc, e); err != nil {
				return err
			}
			if err := encodeEnd(enc, xmlItem); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return nil
	default:
		text := scalarText(t)
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return fmt.Errorf("exchange: failed to encode xml text: %w", err)
		}
		return nil
	}
}

// scalarText renders a scalar value for an element body.
func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func encodeStart(enc *xml.Encoder, name string) error {
	if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
		return fmt.Errorf("exchange: failed to encode xml element %s: %w", name, err)
	}
	return nil
}

func encodeEnd(enc *xml.Encoder, name string) error {
	if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}}); err != nil {
		return fmt.Errorf("exchange: failed to encode xml element %s: %w", name, err)
	}
	return nil
}

// xmlNameInvalid matches characters replaced when a map key becomes an
// element name.
var xmlNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// elemName makes a map key usable as an XML element name.
func elemName(key string) string {
	name := xmlNameInvalid.ReplaceAllString(key, "_")
	if name == "" {
		return "_"
	}
	first := name[0]
	if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z' || first == '_') {
		name = "_" + name
	}
	return name
}

// xmlNode is a parsed element subtree.
type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

// nextElement skips to the first start element and parses its subtree.
func nextElement(dec *xml.Decoder) (*xmlNode, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return parseElement(dec, start)
		}
	}
}

// parseElement consumes tokens through the matching end element.
func parseElement(dec *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	node := &xmlNode{name: start.Name.Local}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("exchange: failed to decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		case xml.CharData:
			node.text += string(t)
		case xml.EndElement:
			return node, nil
		}
	}
}

// nodeValue rebuilds a JSON-style value from a parsed subtree: repeated
// <item> children become a list, named children become a map, and bare
// text narrows to bool, number, or string.
func nodeValue(node *xmlNode) any {
	if len(node.children) == 0 {
		return scalarValue(strings.TrimSpace(node.text))
	}

	allItems := true
	for _, child := range node.children {
		if child.name != xmlItem {
			allItems = false
			break
		}
	}
	if allItems {
		list := make([]any, 0, len(node.children))
		for _, child := range node.children {
			list = append(list, nodeValue(child))
		}
		return list
	}

	m := make(map[string]any, len(node.children))
	for _, child := range node.children {
		m[child.name] = nodeValue(child)
	}
	return m
}

// scalarValue narrows element text to a scalar.
func scalarValue(text string) any {
	switch text {
	case "":
		return ""
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}
