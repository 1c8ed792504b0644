package apiclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Params are the query parameters of a GET. Values may be strings, numbers,
// booleans, or slices of those; nil values are dropped.
type Params map[string]any

// CacheKey derives the cache key of a request: METHOD:URL:PARAMS, where
// PARAMS is the JSON encoding of params with keys sorted at every level, so
// two requests with the same values always share a key.
func CacheKey(method, rawURL string, params Params) (string, error) {
	encoded := []byte("{}")
	if len(params) > 0 {
		var err error
		// encoding/json writes map keys in sorted order
		encoded, err = json.Marshal(map[string]any(params))
		if err != nil {
			return "", fmt.Errorf("encoding params: %w", err)
		}
	}
	return strings.ToUpper(method) + ":" + rawURL + ":" + string(encoded), nil
}

// resolveURL joins base and path. Absolute paths are used as given.
func resolveURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// withQuery appends params to rawURL as a sorted query string.
func withQuery(rawURL string, params Params) (string, error) {
	values, err := encodeParams(params)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return rawURL, nil
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + values.Encode(), nil
}

func encodeParams(params Params) (url.Values, error) {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
			continue
		case []string:
			for _, s := range v {
				values.Add(k, s)
			}
		case []any:
			for _, item := range v {
				s, err := paramString(k, item)
				if err != nil {
					return nil, err
				}
				values.Add(k, s)
			}
		default:
			s, err := paramString(k, v)
			if err != nil {
				return nil, err
			}
			values.Add(k, s)
		}
	}
	return values, nil
}

func paramString(key string, v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("param %q has unsupported type %T", key, v)
}
