package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"agesignal/internal/normalize"
)

var ErrUnsupportedJSON = errors.New("json payload must be an object or an array of objects")

// ParseJSONBytes decodes a single detection, an array of detections, or a
// frame envelope carrying a "detections" array. Numbers are kept verbatim so
// millisecond timestamps survive.
func ParseJSONBytes(data []byte) ([]normalize.EventFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case map[string]any:
		return ParseJSONMap(val), nil
	case []any:
		var out []normalize.EventFields
		for _, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, ErrUnsupportedJSON
			}
			out = append(out, ParseJSONMap(obj)...)
		}
		return out, nil
	default:
		return nil, ErrUnsupportedJSON
	}
}

// ParseJSONMap flattens obj into field bags. A frame's top-level source and
// timestamp apply to each nested detection that does not carry its own, and
// a nested detection without a slot takes its index in the frame.
func ParseJSONMap(obj map[string]any) []normalize.EventFields {
	nested, isFrame := lookup(obj, "detections", "faces").([]any)
	if !isFrame {
		return []normalize.EventFields{fieldsFromMap(obj)}
	}
	frame := fieldsFromMap(obj)
	out := make([]normalize.EventFields, 0, len(nested))
	for i, item := range nested {
		det, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fields := fieldsFromMap(det)
		if fields.Timestamp == "" {
			fields.Timestamp = frame.Timestamp
		}
		if fields.Source == "" {
			fields.Source = frame.Source
		}
		if fields.Slot == "" {
			fields.Slot = strconv.Itoa(i)
		}
		out = append(out, fields)
	}
	return out
}

func fieldsFromMap(obj map[string]any) normalize.EventFields {
	fields := normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		switch val.(type) {
		case nil, []any, map[string]any:
			continue
		}
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	assignAliases(&fields, fields.Extras)
	return fields
}

func lookup(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		for name, v := range obj {
			if strings.EqualFold(name, k) {
				return v
			}
		}
	}
	return nil
}
