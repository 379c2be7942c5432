package redispoco

import "time"

// Configuration defaults
const (
	DefaultIDAttribute   = "id"
	DefaultItemKey       = "Item"
	DefaultNamespace     = "Poco"
	DefaultDerivedSetTTL = 60 * time.Second
	DefaultScanCount     = 100
)

// Options configures a Store. Attributes is required; every other field
// falls back to its default when left zero.
type Options struct {
	// IDAttribute names the record field holding the identifier.
	IDAttribute string
	// ItemKey names the hash holding record blobs.
	ItemKey string
	// Attributes lists the indexed record fields. Fixed for the Store's lifetime.
	Attributes []string
	// Namespace prefixes every key the Store writes.
	Namespace string
	// DerivedSetTTL is the expiry of union/intersection sets built by Filter.
	DerivedSetTTL time.Duration
	// ScanCount is the page size hint for SCAN/HSCAN.
	ScanCount int64
	// AutoID assigns a fresh NewID() to records stored without an identifier
	// instead of rejecting them.
	AutoID bool

	Logger  Logger
	Metrics Metrics
}

// withDefaults returns a copy of o with zero fields set to their defaults.
func (o Options) withDefaults() Options {
	if o.IDAttribute == "" {
		o.IDAttribute = DefaultIDAttribute
	}
	if o.ItemKey == "" {
		o.ItemKey = DefaultItemKey
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.DerivedSetTTL == 0 {
		o.DerivedSetTTL = DefaultDerivedSetTTL
	}
	if o.ScanCount == 0 {
		o.ScanCount = DefaultScanCount
	}
	if o.Logger == nil {
		o.Logger = &NoOpLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetrics{}
	}
	o.Attributes = append([]string(nil), o.Attributes...)
	return o
}

// Validate checks if the Options are valid
func (o Options) Validate() error {
	if len(o.Attributes) == 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Attributes",
			"reason": "at least one indexed attribute is required",
		})
	}
	seen := make(map[string]bool, len(o.Attributes))
	for _, attr := range o.Attributes {
		if attr == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Attributes",
				"reason": "attribute names must not be empty",
			})
		}
		if attr == o.ItemKey {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Attributes",
				"value":  attr,
				"reason": "attribute collides with the item key",
			})
		}
		if seen[attr] {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Attributes",
				"value":  attr,
				"reason": "duplicate attribute",
			})
		}
		seen[attr] = true
	}
	if o.DerivedSetTTL < time.Second {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DerivedSetTTL",
			"value":  o.DerivedSetTTL,
			"reason": "must be at least one second",
		})
	}
	if o.ScanCount < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ScanCount",
			"value":  o.ScanCount,
			"reason": "must be positive",
		})
	}
	return nil
}
