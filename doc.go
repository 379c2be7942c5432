// Package redispoco stores JSON records in Redis and answers attribute
// filters from secondary indexes kept next to them, without scanning the
// records.
//
// # Overview
//
// A Store is configured with the record attributes to index. Every record
// is kept as a JSON blob in one hash; each indexed value is mirrored into
// an exact-match set and, when numeric, into a per-attribute sorted set.
// Writes update the blob and the affected index entries in a single
// MULTI/EXEC transaction, so readers never observe a record whose indexes
// disagree with it.
//
// # Quick Start
//
//	storage, err := redispoco.Connect(ctx, redispoco.RedisOptions())
//	if err != nil {
//	    return err
//	}
//	store, err := redispoco.New(storage, redispoco.Options{
//	    Attributes: []string{"color", "size", "tags"},
//	})
//
//	store.Put(ctx, redispoco.Record{"id": "a1", "color": "red", "size": 3, "tags": []any{"x", "y"}})
//
//	ids, err := store.Filter(ctx, redispoco.Filter{
//	    "color": redispoco.Eq("red"),
//	    "size":  redispoco.Between(2, 5),
//	})
//
// Filters can also be written as JSON or as a SQL WHERE clause:
//
//	f, _ := redispoco.ParseFilterJSON([]byte(`{"color":"red","size":{"min":2,"max":5}}`))
//	f, _ = redispoco.ParseWhere("color = 'red' AND size BETWEEN 2 AND 5")
//
// # Key Layout
//
// With the default namespace "Poco" and item key "Item":
//
//	Poco:Item            hash, id → record JSON
//	Poco:color:red       set of ids whose color is "red"
//	Poco:size            sorted set of ids scored by size
//	Poco:a|Poco:b        union built by a filter, expires
//	Poco:a&Poco:b        intersection built by a filter, expires
//
// The layout is stable so other processes can read or write the same
// namespace.
//
// # Maintenance
//
// Rebuild re-derives every index structure from the stored records, Verify
// reports records missing from their index entries and IndexHealthMonitor
// runs Verify on a schedule. Export and Import move records as JSON Lines;
// ExportTo and ImportFrom do the same through an Archive on S3, MinIO or
// Google Cloud Storage.
//
// # Observability
//
// Options.Logger accepts any Logger; ZapLogger adapts go.uber.org/zap.
// Options.Metrics accepts any Metrics; PrometheusMetrics registers the
// store's counters and histograms on a Prometheus registry.
package redispoco
