// Package ordered walks JSON objects in document order. encoding/json maps
// lose key order, and the classifier and artifact picker both depend on it.
package ordered

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when the input is not a JSON object.
var ErrNotObject = errors.New("json value is not an object")

// ForEach calls fn for every key of the JSON object in data, in the order the
// keys appear in the document. A null document is treated as an empty object.
func ForEach(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	t, err := dec.Token()
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return ErrNotObject
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", kt)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}

	// consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Keys returns the keys of the JSON object in data in document order.
func Keys(data []byte) ([]string, error) {
	keys := make([]string, 0)
	err := ForEach(data, func(key string, _ json.RawMessage) error {
		keys = append(keys, key)
		return nil
	})
	return keys, err
}

// Decode unmarshals data into v, keeping numbers as json.Number so large
// integers survive a round trip untouched.
func Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
