package codec

import "fmt"

// Normalize rewrites maps with non-string keys, such as the
// map[any]any yaml produces for {2: ..., _multiwidget: 1}, into
// map[string]any at every depth. Keys are formatted with fmt, so 2 becomes
// "2" the way PHP serializes numeric array keys. Other values are returned
// unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}
