package model

import (
	"bytes"
	"encoding/json"
	"io"
	"unicode/utf8"
)

// RequestBody is a best-effort structured view of an inbound JSON body.
// When the raw bytes are not a JSON object, Fields is nil and only Raw is
// usable; Model and Stream keep their zero values.
type RequestBody struct {
	Raw    []byte
	Fields map[string]any

	Model    string
	HasModel bool
	Stream   bool
}

// ParseRequestBody decodes raw into a RequestBody. It never fails: bodies
// that are empty, malformed, not valid UTF-8 or not a JSON object degrade to
// a raw-only view.
func ParseRequestBody(raw []byte) RequestBody {
	body := RequestBody{Raw: raw}
	if len(bytes.TrimSpace(raw)) == 0 {
		return body
	}
	// encoding/json would replace invalid sequences with U+FFFD, so a
	// rewrite could alter fields the gateway never meant to touch.
	if !utf8.Valid(raw) {
		return body
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return body
	}
	// Trailing data after the first value means the body is not a single object.
	if _, err := dec.Token(); err != io.EOF {
		return body
	}

	body.Fields = fields
	if m, ok := fields["model"].(string); ok {
		body.Model = m
		body.HasModel = true
	}
	if s, ok := fields["stream"].(bool); ok {
		body.Stream = s
	}
	return body
}

// Structured reports whether the body parsed as a JSON object.
func (b RequestBody) Structured() bool {
	return b.Fields != nil
}

// WithModel returns the body re-serialized with the model field replaced.
// Numbers keep their original textual form and HTML characters are not escaped.
func (b RequestBody) WithModel(model string) ([]byte, error) {
	fields := make(map[string]any, len(b.Fields))
	for k, v := range b.Fields {
		fields[k] = v
	}
	fields["model"] = model

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
