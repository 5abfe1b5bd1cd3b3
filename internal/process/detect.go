package process

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedFormat is returned when a payload is neither JSON nor XML.
var ErrUnsupportedFormat = errors.New("unsupported acknowledgment format")

// ParsePayload auto-detects the acknowledgment format from the content type
// or the leading non-space byte, then parses into a generic map for the
// classification engine.
func ParsePayload(payload []byte, contentType string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return parseJSON(trimmed)
	case strings.Contains(ct, "xml"):
		return parseXML(trimmed)
	}

	// No usable content type: sniff the first byte.
	switch trimmed[0] {
	case '{', '[':
		return parseJSON(trimmed)
	case '<':
		return parseXML(trimmed)
	}
	return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
}

func parseJSON(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		// Arrays are wrapped so field paths still resolve.
		var arr []any
		if arrErr := json.Unmarshal(data, &arr); arrErr == nil {
			return map[string]any{"items": arr}, nil
		}
		return nil, fmt.Errorf("failed to parse JSON acknowledgment: %w", err)
	}
	return out, nil
}

// parseXML converts the document into nested maps keyed by element name.
// Attributes become fields, leaf elements collapse to their text content,
// and repeated siblings collapse into a slice.
func parseXML(data []byte) (map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := make(map[string]any)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML acknowledgment: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			child, err := parseElement(dec, start)
			if err != nil {
				return nil, fmt.Errorf("failed to parse XML acknowledgment: %w", err)
			}
			insertChild(root, start.Name.Local, child)
		}
	}

	return root, nil
}

func parseElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	node := make(map[string]any)
	for _, attr := range start.Attr {
		node[attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			insertChild(node, t.Name.Local, child)

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			content := strings.TrimSpace(text.String())
			if len(node) == 0 {
				return content, nil
			}
			if content != "" {
				node["#text"] = content
			}
			return node, nil
		}
	}
}

func insertChild(parent map[string]any, key string, value any) {
	existing, ok := parent[key]
	if !ok {
		parent[key] = value
		return
	}
	if list, ok := existing.([]any); ok {
		parent[key] = append(list, value)
		return
	}
	parent[key] = []any{existing, value}
}
