package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// obj is a JSON object with its key declaration order preserved.
// encoding/json's map decoding discards key order, which this format
// depends on, so documents are walked token-by-token instead.
type obj struct {
	keys   []string
	fields map[string]any
}

func newObj() *obj {
	return &obj{fields: make(map[string]any)}
}

func (o *obj) get(key string) (any, bool) {
	v, ok := o.fields[key]
	return v, ok
}

func (o *obj) has(key string) bool {
	_, ok := o.fields[key]
	return ok
}

// parseRaw decodes a JSON document into nested obj/[]any/scalar values,
// preserving object key order. Numbers decode as float64.
func parseRaw(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := decodeRawValue(dec)
	if err != nil {
		return nil, err
	}
	// Reject trailing garbage after the root value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected content after document root")
	}
	return v, nil
}

func decodeRawValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeRawObject(dec)
		case '[':
			return decodeRawArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case string, float64, bool, nil:
		return t, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeRawObject(dec *json.Decoder) (*obj, error) {
	o := newObj()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		val, err := decodeRawValue(dec)
		if err != nil {
			return nil, err
		}
		if _, dup := o.fields[key]; !dup {
			o.keys = append(o.keys, key)
		}
		o.fields[key] = val
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return o, nil
}

func decodeRawArray(dec *json.Decoder) ([]any, error) {
	var arr []any
	for dec.More() {
		val, err := decodeRawValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	// Consume the closing ']'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}
