package audit

import "strings"

// sensitiveKeys are dropped from request bodies at any depth before they
// are persisted.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwordhash":  {},
	"password_hash": {},
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// Sanitize returns a deep copy of v with credential fields removed from
// every nested object. v is not modified. A nil body becomes an empty object.
func Sanitize(v interface{}) interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return sanitizeValue(v)
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitive(k) {
				continue
			}
			out[k] = sanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	default:
		return v
	}
}
