package cache

import (
	"encoding/json"
	"fmt"
)

// Decode converts a value returned by Tier.Get into T. Raw JSON, as the
// persistent tier returns it, is unmarshaled unless T is itself raw JSON,
// so an interface T gets the same shape a fresh value would have. Other
// memory tier values are returned as stored.
func Decode[T any](v any) (T, error) {
	var out T
	switch any(out).(type) {
	case json.RawMessage, []byte:
		if raw, ok := v.(T); ok {
			return raw, nil
		}
	}

	switch raw := v.(type) {
	case json.RawMessage:
		return unmarshal[T](raw)
	case []byte:
		return unmarshal[T](raw)
	case nil:
		return out, nil
	case T:
		return raw, nil
	}
	return out, fmt.Errorf("cached value has type %T, want %T", v, out)
}

func unmarshal[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding cached value: %w", err)
	}
	return out, nil
}

// Lookup reads key from t and decodes it. Values that do not decode are
// deleted and reported as a miss.
func Lookup[T any](t Tier, key string) (T, bool) {
	var zero T
	v, ok := t.Get(key)
	if !ok {
		return zero, false
	}
	out, err := Decode[T](v)
	if err != nil {
		logFault(&Fault{Kind: FaultDeserialization, Key: key, Err: err})
		t.Delete(key)
		return zero, false
	}
	return out, true
}
