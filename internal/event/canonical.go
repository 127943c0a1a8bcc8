package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// canonicalForm serializes the hashable fields of an event as canonical
// JSON. CRITICAL: this is the ONLY serialization used for ID
// computation; the wire form (encoding/json struct tags) is free to
// differ.
//
// Canonical rules:
//  1. Fixed field order: author, content, created_at, d, kind, tags
//     (sorted byte order; all keys are ASCII so this matches UTF-16
//     code-unit order)
//  2. Strings are NFC normalized
//  3. No HTML escaping (< > & emitted verbatim)
//  4. Integers only, no floats
func canonicalForm(e *Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	author, err := canonicalString(e.Author)
	if err != nil {
		return nil, fmt.Errorf("canonical author: %w", err)
	}
	content, err := canonicalString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("canonical content: %w", err)
	}
	disc, err := canonicalString(e.Discriminator)
	if err != nil {
		return nil, fmt.Errorf("canonical discriminator: %w", err)
	}

	fmt.Fprintf(&buf, `"author":%s,`, author)
	fmt.Fprintf(&buf, `"content":%s,`, content)
	fmt.Fprintf(&buf, `"created_at":%d,`, e.CreatedAt)
	fmt.Fprintf(&buf, `"d":%s,`, disc)
	fmt.Fprintf(&buf, `"kind":%d,`, e.Kind)

	buf.WriteString(`"tags":[`)
	for i, t := range e.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := canonicalString(t.Name())
		if err != nil {
			return nil, fmt.Errorf("canonical tag[%d] name: %w", i, err)
		}
		val, err := canonicalString(t.Value())
		if err != nil {
			return nil, fmt.Errorf("canonical tag[%d] value: %w", i, err)
		}
		fmt.Fprintf(&buf, "[%s,%s]", name, val)
	}
	buf.WriteString("]}")

	return buf.Bytes(), nil
}

// canonicalString produces a JSON string literal with NFC normalization
// and HTML escaping disabled.
func canonicalString(s string) (string, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // < > & stay verbatim in canonical form
	if err := enc.Encode(normalized); err != nil {
		return "", err
	}
	// Encoder appends a trailing newline, strip it.
	return strings.TrimSpace(buf.String()), nil
}
