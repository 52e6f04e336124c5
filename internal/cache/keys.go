package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the cache key fingerprint for a set of inputs:
// sha256 over a canonical JSON encoding. Canonicalization rules: object
// keys sorted lexicographically, null fields omitted, numbers as
// Go's shortest round-trip decimal, no whitespace. Different users, pages,
// filters, or queries are guaranteed to produce different keys because
// each contributes a distinct field to the canonicalized object.
func Fingerprint(inputs any) (string, error) {
	canonical, err := canonicalize(inputs)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache inputs: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize round-trips v through JSON so map keys are available for
// sorting, then drops null fields and re-marshals. encoding/json already
// sorts map[string]interface{} keys and emits no extraneous whitespace, so
// the only additional step is stripping nulls.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	stripped := stripNulls(generic)
	return json.Marshal(stripped)
}

func stripNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if child == nil {
				continue
			}
			out[k] = stripNulls(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = stripNulls(child)
		}
		return out
	default:
		return v
	}
}

// Key namespaces, one per cached value type.
const (
	NamespaceSearch = "search:"
	NamespaceEmbed  = "embed:"
	NamespaceIntent = "intent:"
)

// Namespaced prepends a namespace prefix to a fingerprint to form the full
// cache key.
func Namespaced(namespace, fingerprint string) string {
	return namespace + fingerprint
}
