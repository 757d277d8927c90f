package journal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodePayload parses a stored canonical JSON payload back into a map.
//
// json.Unmarshal decodes numbers as float64, which the canonical encoder
// refuses; integers are restored through json.Number so re-canonicalizing
// a decoded payload round-trips.
func decodePayload(body string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// normalize rewrites json.Number values to int64 and recurses into
// containers.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %q in payload", val)
		}
		return n, nil
	case string, bool:
		return val, nil
	case nil:
		return nil, fmt.Errorf("null in payload")
	default:
		return nil, fmt.Errorf("unsupported payload value %T", v)
	}
}
