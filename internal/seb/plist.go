// Package seb implements the Safe Exam Browser access-control core: the
// configuration compiler, config-key derivation, and the per-request
// access decision engine.
package seb

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"howett.net/plist"
)

// Dict is a property-list dictionary. Nested dictionaries are Dict values,
// arrays are []any, binary data is []byte, dates are time.Time.
type Dict map[string]any

// documentPreamble is the fixed header of every emitted configuration.
// The exact bytes are a compatibility contract with the SEB client: the
// config key is a digest of the emitted document, so the preamble,
// indentation, key ordering, and trailing newline must never change.
const documentPreamble = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
	`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n" +
	`<plist version="1.0">` + "\n"

const documentTrailer = "</plist>\n"

// MarshalDocument renders the dictionary as a canonical property-list
// document. Keys are sorted case-insensitively at every nesting level
// (ties broken case-sensitively), which keeps the output independent of
// the order template and uploaded sources happened to decode in.
// Two calls with logically equal input yield byte-identical output.
func MarshalDocument(root Dict) ([]byte, error) {
	var b strings.Builder
	b.WriteString(documentPreamble)
	if err := writeDict(&b, root, 0); err != nil {
		return nil, err
	}
	b.WriteString(documentTrailer)
	return []byte(b.String()), nil
}

// UnmarshalDocument parses a property-list document (template content or an
// uploaded .seb file) into a Dict. The root element must be a dictionary.
func UnmarshalDocument(data []byte) (Dict, error) {
	var root map[string]any
	if _, err := plist.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse plist: %w", err)
	}
	normalized, err := normalizeValue(root)
	if err != nil {
		return nil, err
	}
	dict, ok := normalized.(Dict)
	if !ok {
		return nil, fmt.Errorf("plist root is not a dictionary")
	}
	return dict, nil
}

// normalizeValue rewrites decoded plist values into the Dict/[]any shapes
// the serializer understands.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		d := make(Dict, len(val))
		for k, item := range val {
			norm, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			d[k] = norm
		}
		return d, nil
	case Dict:
		return normalizeValue(map[string]any(val))
	case []any:
		arr := make([]any, len(val))
		for i, item := range val {
			norm, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			arr[i] = norm
		}
		return arr, nil
	case bool, string, int, int64, uint64, float64, []byte, time.Time:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported plist value type %T", v)
	}
}

func writeDict(b *strings.Builder, d Dict, depth int) error {
	indent := strings.Repeat("\t", depth)
	b.WriteString(indent)
	if len(d) == 0 {
		b.WriteString("<dict/>\n")
		return nil
	}
	b.WriteString("<dict>\n")
	for _, k := range sortedKeys(d) {
		b.WriteString(indent)
		b.WriteString("\t<key>")
		writeEscaped(b, k)
		b.WriteString("</key>\n")
		if err := writeValue(b, d[k], depth+1); err != nil {
			return err
		}
	}
	b.WriteString(indent)
	b.WriteString("</dict>\n")
	return nil
}

func writeValue(b *strings.Builder, v any, depth int) error {
	indent := strings.Repeat("\t", depth)
	switch val := v.(type) {
	case bool:
		if val {
			b.WriteString(indent + "<true/>\n")
		} else {
			b.WriteString(indent + "<false/>\n")
		}
	case string:
		b.WriteString(indent + "<string>")
		writeEscaped(b, val)
		b.WriteString("</string>\n")
	case int:
		b.WriteString(indent + "<integer>" + strconv.Itoa(val) + "</integer>\n")
	case int64:
		b.WriteString(indent + "<integer>" + strconv.FormatInt(val, 10) + "</integer>\n")
	case uint64:
		b.WriteString(indent + "<integer>" + strconv.FormatUint(val, 10) + "</integer>\n")
	case float64:
		b.WriteString(indent + "<real>" + strconv.FormatFloat(val, 'g', -1, 64) + "</real>\n")
	case []byte:
		b.WriteString(indent + "<data>" + base64.StdEncoding.EncodeToString(val) + "</data>\n")
	case time.Time:
		b.WriteString(indent + "<date>" + val.UTC().Format("2006-01-02T15:04:05Z") + "</date>\n")
	case []any:
		if len(val) == 0 {
			b.WriteString(indent + "<array/>\n")
			return nil
		}
		b.WriteString(indent + "<array>\n")
		for _, item := range val {
			if err := writeValue(b, item, depth+1); err != nil {
				return err
			}
		}
		b.WriteString(indent + "</array>\n")
	case Dict:
		return writeDict(b, val, depth)
	case map[string]any:
		return writeDict(b, Dict(val), depth)
	default:
		return fmt.Errorf("unsupported plist value type %T", v)
	}
	return nil
}

func writeEscaped(b *strings.Builder, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

func sortedKeys(d Dict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})
	return keys
}
