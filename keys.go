package redispoco

import "strings"

const (
	keyDelimiter       = ":"
	unionDelimiter     = "|"
	intersectDelimiter = "&"
)

// BuildKey joins a namespace and key parts with ':'.
//
// Example: BuildKey("Poco", "color", "red") → "Poco:color:red"
func BuildKey(namespace string, parts ...string) string {
	return namespace + keyDelimiter + strings.Join(parts, keyDelimiter)
}

// Keyspace addresses every key a Store owns inside one namespace.
//
// Layout (namespace "Poco", item key "Item"):
//   - Poco:Item             hash of id → record JSON
//   - Poco:<attr>:<value>   set of ids holding that exact value
//   - Poco:<attr>           sorted set of ids scored by numeric value
//   - k1|k2|...             derived union of k1, k2, ...
//   - k1&k2&...             derived intersection of k1, k2, ...
//
// The layout is shared with other instances writing the same namespace, so
// it must not change.
type Keyspace struct {
	Namespace string
}

// Key builds a key inside the namespace.
func (k Keyspace) Key(parts ...string) string {
	return BuildKey(k.Namespace, parts...)
}

// ItemKey returns the hash holding record blobs.
func (k Keyspace) ItemKey(itemKeyName string) string {
	return k.Key(itemKeyName)
}

// ExactKey returns the set of ids whose attribute holds value.
func (k Keyspace) ExactKey(attribute, value string) string {
	return k.Key(attribute, value)
}

// RangeKey returns the sorted set scoring ids by the attribute's numeric value.
func (k Keyspace) RangeKey(attribute string) string {
	return k.Key(attribute)
}

// UnionKey names the derived set holding the union of keys.
func (k Keyspace) UnionKey(keys ...string) string {
	return strings.Join(keys, unionDelimiter)
}

// IntersectKey names the derived set holding the intersection of keys.
func (k Keyspace) IntersectKey(keys ...string) string {
	return strings.Join(keys, intersectDelimiter)
}

// Pattern returns a SCAN glob matching every key under the given parts.
// Glob metacharacters in the namespace and parts are escaped.
//
// Example: Keyspace{"Poco"}.Pattern("color") → "Poco:color:*"
func (k Keyspace) Pattern(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escapeGlob(p)
	}
	prefix := escapeGlob(k.Namespace) + keyDelimiter
	if len(escaped) > 0 {
		prefix += strings.Join(escaped, keyDelimiter) + keyDelimiter
	}
	return prefix + "*"
}

// looksDerived reports whether a key found under the namespace is shaped
// like a union or intersection key. An exact-match key whose value itself
// contains "|<ns>:" or "&<ns>:" has the same shape; only derived sets
// carry an expiry.
func (k Keyspace) looksDerived(key string) bool {
	marker := k.Namespace + keyDelimiter
	return strings.Contains(key, unionDelimiter+marker) ||
		strings.Contains(key, intersectDelimiter+marker)
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
