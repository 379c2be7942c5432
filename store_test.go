package redispoco

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestStore creates a store over miniredis indexing attrs.
func setupTestStore(t *testing.T, attrs ...string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	return setupTestStoreWithOptions(t, Options{Attributes: attrs})
}

func setupTestStoreWithOptions(t *testing.T, opts Options) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := New(NewRedisStorageWithOwnedClient(client), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func mustPut(t *testing.T, store *Store, rec Record) {
	t.Helper()
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put(%v) failed: %v", rec, err)
	}
}

func mustPutJSON(t *testing.T, store *Store, data string) string {
	t.Helper()
	id, err := store.PutJSON(context.Background(), []byte(data))
	if err != nil {
		t.Fatalf("PutJSON(%s) failed: %v", data, err)
	}
	return id
}

// jsonEqual compares two values by their JSON encoding.
func jsonEqual(t *testing.T, got, want any) bool {
	t.Helper()
	var g, w any
	gb, _ := json.Marshal(got)
	wb, _ := json.Marshal(want)
	_ = json.Unmarshal(gb, &g)
	_ = json.Unmarshal(wb, &w)
	return reflect.DeepEqual(g, w)
}

func setMembers(t *testing.T, mr *miniredis.Miniredis, key string) []string {
	t.Helper()
	if !mr.Exists(key) {
		return nil
	}
	members, err := mr.Members(key)
	if err != nil {
		t.Fatalf("Members(%s) failed: %v", key, err)
	}
	sort.Strings(members)
	return members
}

func TestNew_Validation(t *testing.T) {
	mr := miniredis.RunT(t)
	storage := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	tests := []struct {
		name string
		opts Options
	}{
		{"no attributes", Options{}},
		{"empty attribute", Options{Attributes: []string{"A", ""}}},
		{"duplicate attribute", Options{Attributes: []string{"A", "A"}}},
		{"attribute named like item key", Options{Attributes: []string{"Item"}}},
		{"ttl below one second", Options{Attributes: []string{"A"}, DerivedSetTTL: 10}},
		{"negative scan count", Options{Attributes: []string{"A"}, ScanCount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(storage, tt.opts)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if _, err := New(nil, Options{Attributes: []string{"A"}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil storage, got %v", err)
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A", "B", "C")

	rec := Record{"id": "id1", "A": 26, "B": []any{"x", "y"}, "C": "z", "extra": map[string]any{"nested": true}}
	mustPut(t, store, rec)

	got, err := store.Get(ctx, "id1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !jsonEqual(t, got, rec) {
		t.Errorf("Get = %v, want %v", got, rec)
	}

	if v := mr.HGet("Poco:Item", "id1"); v == "" {
		t.Error("expected blob in Poco:Item")
	}
	if got := setMembers(t, mr, "Poco:A:26"); !reflect.DeepEqual(got, []string{"id1"}) {
		t.Errorf("Poco:A:26 = %v", got)
	}
	if got := setMembers(t, mr, "Poco:B:x"); !reflect.DeepEqual(got, []string{"id1"}) {
		t.Errorf("Poco:B:x = %v", got)
	}
	if got := setMembers(t, mr, "Poco:C:z"); !reflect.DeepEqual(got, []string{"id1"}) {
		t.Errorf("Poco:C:z = %v", got)
	}
	score, err := mr.ZScore("Poco:A", "id1")
	if err != nil || score != 26 {
		t.Errorf("ZSCORE Poco:A id1 = %v, %v", score, err)
	}
	if mr.Exists("Poco:B") || mr.Exists("Poco:C") {
		t.Error("non-numeric attributes must not get a sorted set")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t, "A")

	rec, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %v", rec)
	}
}

func TestStore_GetCorrupt(t *testing.T) {
	store, mr := setupTestStore(t, "A")
	mr.HSet("Poco:Item", "bad", "{not json")

	_, err := store.Get(context.Background(), "bad")
	if !IsCorrupt(err) {
		t.Errorf("expected ErrDeserialization, got %v", err)
	}
}

func TestStore_PutJSON(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A")

	id := mustPutJSON(t, store, `{"id": 7, "A": 1.50, "big": 12345678901234567890}`)
	if id != "7" {
		t.Errorf("id = %q, want 7", id)
	}
	if got := mr.HGet("Poco:Item", "7"); got != `{"A":1.50,"big":12345678901234567890,"id":7}` {
		t.Errorf("blob = %s", got)
	}
	if got := setMembers(t, mr, "Poco:A:1.5"); !reflect.DeepEqual(got, []string{"7"}) {
		t.Errorf("Poco:A:1.5 = %v", got)
	}

	rec, err := store.Get(ctx, "7")
	if err != nil || rec == nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestStore_PutRejectsWithoutMutation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"array", `[{"id":"a"}]`, ErrInvalidRecord},
		{"string", `"hello"`, ErrInvalidRecord},
		{"null", `null`, ErrInvalidRecord},
		{"malformed", `{"id":`, ErrInvalidRecord},
		{"trailing data", `{"id":"a"} {"id":"b"}`, ErrInvalidRecord},
		{"no identifier", `{"A":"x"}`, ErrMissingIdentifier},
		{"empty identifier", `{"id":"","A":"x"}`, ErrMissingIdentifier},
		{"object identifier", `{"id":{"x":1}}`, ErrMissingIdentifier},
		{"object attribute", `{"id":"a","A":{"x":1}}`, ErrInvalidAttribute},
		{"array with object", `{"id":"a","B":["x",{"y":1}]}`, ErrInvalidAttribute},
		{"nested array", `{"id":"a","A":[["x"]]}`, ErrInvalidAttribute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mr := setupTestStore(t, "A", "B")

			_, err := store.PutJSON(ctx, []byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsValidation(err) {
				t.Errorf("IsValidation(%v) = false", err)
			}
			if keys := mr.Keys(); len(keys) != 0 {
				t.Errorf("rejected put wrote keys: %v", keys)
			}
		})
	}

	t.Run("nil record", func(t *testing.T) {
		store, _ := setupTestStore(t, "A")
		if err := store.Put(ctx, nil); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord, got %v", err)
		}
	})
}

func TestStore_AttributeErrorNamesAttributesInOrder(t *testing.T) {
	store, _ := setupTestStore(t, "C", "A", "B")

	err := store.Put(context.Background(), Record{
		"id": "a",
		"A":  map[string]any{"x": 1},
		"B":  "fine",
		"C":  []any{"ok", map[string]any{}},
	})

	var attrErr *AttributeError
	if !errors.As(err, &attrErr) {
		t.Fatalf("expected *AttributeError, got %v", err)
	}
	if !reflect.DeepEqual(attrErr.Attributes, []string{"C", "A"}) {
		t.Errorf("Attributes = %v, want [C A]", attrErr.Attributes)
	}
}

func TestStore_AutoID(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStoreWithOptions(t, Options{Attributes: []string{"A"}, AutoID: true})

	id, err := store.PutJSON(ctx, []byte(`{"A":"x"}`))
	if err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	if !IsValidID(id) {
		t.Errorf("expected generated UUID, got %q", id)
	}

	rec, err := store.Get(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("Get(%s) = %v, %v", id, rec, err)
	}
	if rec["id"] != id {
		t.Errorf("stored id = %v, want %s", rec["id"], id)
	}

	// An identifier of the wrong type is still rejected.
	if _, err := store.PutJSON(ctx, []byte(`{"id":true}`)); !errors.Is(err, ErrMissingIdentifier) {
		t.Errorf("expected ErrMissingIdentifier, got %v", err)
	}
}

func TestStore_AutoIDLeavesRejectedRecordAlone(t *testing.T) {
	store, mr := setupTestStoreWithOptions(t, Options{Attributes: []string{"A"}, AutoID: true})

	rec := Record{"A": map[string]any{"x": 1}}
	if err := store.Put(context.Background(), rec); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected ErrInvalidAttribute, got %v", err)
	}
	if _, ok := rec["id"]; ok {
		t.Errorf("rejected record was given an id: %v", rec)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("rejected put wrote keys: %v", keys)
	}
}

func TestStore_OverwriteDiffsIndexes(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A", "B")

	mustPut(t, store, Record{"id": "r", "A": 5, "B": []any{"x", "y"}})
	mustPut(t, store, Record{"id": "r", "A": "five", "B": []any{"y", "z"}})

	if got := setMembers(t, mr, "Poco:A:5"); got != nil {
		t.Errorf("Poco:A:5 still holds %v", got)
	}
	if _, err := mr.ZScore("Poco:A", "r"); err == nil {
		t.Error("r still scored in Poco:A")
	}
	if got := setMembers(t, mr, "Poco:B:x"); got != nil {
		t.Errorf("Poco:B:x still holds %v", got)
	}
	for _, key := range []string{"Poco:A:five", "Poco:B:y", "Poco:B:z"} {
		if got := setMembers(t, mr, key); !reflect.DeepEqual(got, []string{"r"}) {
			t.Errorf("%s = %v, want [r]", key, got)
		}
	}

	ids, err := store.Filter(ctx, Filter{"B": Eq("x")})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("dropped value still matches: %v", ids)
	}
	ids, err = store.Filter(ctx, Filter{"B": Eq("z")})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"r"}) {
		t.Errorf("new value does not match: %v", ids)
	}
}

func TestStore_OverwriteCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A")
	mr.HSet("Poco:Item", "r", "garbage")

	mustPut(t, store, Record{"id": "r", "A": "x"})

	rec, err := store.Get(ctx, "r")
	if err != nil || rec["A"] != "x" {
		t.Errorf("Get = %v, %v", rec, err)
	}
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A", "B")

	mustPut(t, store, Record{"id": "r1", "A": 3, "B": []any{"x"}})
	mustPut(t, store, Record{"id": "r2", "A": 3, "B": []any{"x"}})

	if err := store.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	rec, err := store.Get(ctx, "r1")
	if err != nil || rec != nil {
		t.Errorf("Get after remove = %v, %v", rec, err)
	}
	if got := setMembers(t, mr, "Poco:A:3"); !reflect.DeepEqual(got, []string{"r2"}) {
		t.Errorf("Poco:A:3 = %v", got)
	}
	if got := setMembers(t, mr, "Poco:B:x"); !reflect.DeepEqual(got, []string{"r2"}) {
		t.Errorf("Poco:B:x = %v", got)
	}
	if _, found, err := store.storage.SortedSetScore(ctx, "Poco:A", "r1"); err != nil || found {
		t.Errorf("r1 still scored in Poco:A (found=%v, err=%v)", found, err)
	}

	// Absent ids are a no-op.
	if err := store.Remove(ctx, "missing"); err != nil {
		t.Errorf("Remove(missing) failed: %v", err)
	}
}

func TestStore_RemoveCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A")
	mr.HSet("Poco:Item", "bad", "[1,2")

	if err := store.Remove(ctx, "bad"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mr.HGet("Poco:Item", "bad") != "" {
		t.Error("corrupt blob not deleted")
	}
}

func TestStore_RemoveAll(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStoreWithOptions(t, Options{Attributes: []string{"A"}, ScanCount: 2})

	for _, id := range []string{"a", "b", "c", "d"} {
		mustPut(t, store, Record{"id": id, "A": id})
	}
	if _, err := store.Filter(ctx, Filter{"A": In("a", "b")}); err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	mr.Set("Other:key", "kept")

	n, err := store.RemoveAll(ctx)
	if err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if n == 0 {
		t.Error("expected deleted keys to be counted")
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		rec, err := store.Get(ctx, id)
		if err != nil || rec != nil {
			t.Errorf("Get(%s) after RemoveAll = %v, %v", id, rec, err)
		}
	}
	if keys := mr.Keys(); !reflect.DeepEqual(keys, []string{"Other:key"}) {
		t.Errorf("remaining keys = %v", keys)
	}
}

func TestStore_AttributeValues(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t, "A", "B")

	mustPut(t, store, Record{"id": "1", "A": "red", "B": 10})
	mustPut(t, store, Record{"id": "2", "A": []any{"blue", "red"}, "B": 2.5})
	if _, err := store.Filter(ctx, Filter{"A": In("red", "blue")}); err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	got, err := store.AttributeValues(ctx, "A")
	if err != nil {
		t.Fatalf("AttributeValues failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"blue", "red"}) {
		t.Errorf("AttributeValues(A) = %v", got)
	}

	got, err = store.AttributeValues(ctx, "B")
	if err != nil {
		t.Fatalf("AttributeValues failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"10", "2.5"}) {
		t.Errorf("AttributeValues(B) = %v", got)
	}
}

func TestStore_AttributeValuesKeepsDerivedLookingValues(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestStore(t, "A")

	mustPut(t, store, Record{"id": "1", "A": "p"})
	mustPut(t, store, Record{"id": "2", "A": "q"})
	mustPut(t, store, Record{"id": "3", "A": "x|Poco:A:y"})
	if _, err := store.Filter(ctx, Filter{"A": In("p", "q")}); err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if !mr.Exists("Poco:A:p|Poco:A:q") {
		t.Fatal("expected the filter to leave a derived union")
	}

	got, err := store.AttributeValues(ctx, "A")
	if err != nil {
		t.Fatalf("AttributeValues failed: %v", err)
	}
	if want := []string{"p", "q", "x|Poco:A:y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AttributeValues(A) = %v, want %v", got, want)
	}
}

func TestStore_CustomNamespaceAndKeys(t *testing.T) {
	store, mr := setupTestStoreWithOptions(t, Options{
		Attributes:  []string{"color"},
		Namespace:   "Shop",
		ItemKey:     "Products",
		IDAttribute: "sku",
	})

	mustPut(t, store, Record{"sku": "p-1", "color": "red"})

	if mr.HGet("Shop:Products", "p-1") == "" {
		t.Error("expected blob in Shop:Products")
	}
	if got := setMembers(t, mr, "Shop:color:red"); !reflect.DeepEqual(got, []string{"p-1"}) {
		t.Errorf("Shop:color:red = %v", got)
	}
}

func TestStore_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewInMemoryMetrics()
	store, _ := setupTestStoreWithOptions(t, Options{Attributes: []string{"A"}, Metrics: metrics})

	mustPut(t, store, Record{"id": "1", "A": 1})
	_ = store.Put(ctx, Record{"A": 1})
	if err := store.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if metrics.Counter(MetricPutSuccess) != 1 {
		t.Errorf("put success = %d", metrics.Counter(MetricPutSuccess))
	}
	if metrics.Counter(MetricPutRejected) != 1 {
		t.Errorf("put rejected = %d", metrics.Counter(MetricPutRejected))
	}
	if metrics.Counter(MetricRemoveSuccess) != 1 {
		t.Errorf("remove success = %d", metrics.Counter(MetricRemoveSuccess))
	}
}

func TestStore_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	store, err := New(NewRedisStorageWithOwnedClient(client), Options{Attributes: []string{"A"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Get(ctx, "x"); err == nil {
		t.Error("expected Get to fail without redis")
	}
	err = store.Put(ctx, Record{"id": "x", "A": 1})
	if err == nil || IsValidation(err) {
		t.Errorf("expected storage error, got %v", err)
	}
}
