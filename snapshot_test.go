package redispoco

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
)

// memoryArchive keeps uploaded snapshots in memory.
type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	failUp  error
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: make(map[string][]byte)}
}

func (a *memoryArchive) Upload(ctx context.Context, name string, r io.Reader) error {
	if a.failUp != nil {
		return a.failUp
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[name] = data
	return nil
}

func (a *memoryArchive) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[name]
	if !ok {
		return nil, ErrArchiveNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *memoryArchive) List(ctx context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for name := range a.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *memoryArchive) Close() error { return nil }

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src, mr := setupTestStore(t, "color", "size")

	mustPutJSON(t, src, `{"id":"a", "color":"red", "size":3, "extra":{"nested":[1,2]}}`)
	mustPutJSON(t, src, `{"id":"b","color":["red","blue"],"size":12.5}`)
	mr.HSet("Poco:Item", "broken", "{oops")

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d records, want 2", n)
	}

	want := `{"color":"red","extra":{"nested":[1,2]},"id":"a","size":3}` + "\n" +
		`{"color":["red","blue"],"id":"b","size":12.5}` + "\n"
	if buf.String() != want {
		t.Errorf("snapshot =\n%s\nwant\n%s", buf.String(), want)
	}

	dst, _ := setupTestStore(t, "color", "size")
	imported, err := dst.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != 2 {
		t.Errorf("imported %d records, want 2", imported)
	}

	if got := mustFilter(t, dst, Filter{"color": Eq("red"), "size": AtLeast(10)}); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("filter after import = %v, want [b]", got)
	}
	rec, err := dst.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !jsonEqual(t, rec, map[string]any{"id": "a", "color": "red", "size": 3, "extra": map[string]any{"nested": []any{1, 2}}}) {
		t.Errorf("imported record = %v", rec)
	}
}

func TestImport_SkipsBlankLines(t *testing.T) {
	store, _ := setupTestStore(t, "color")

	input := "\n" + `{"id":"a","color":"red"}` + "\n   \n" + `{"id":"b","color":"red"}`
	n, err := store.Import(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d records, want 2", n)
	}
	if got := mustFilter(t, store, Filter{"color": Eq("red")}); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("filter = %v", got)
	}
}

func TestImport_StopsAtFirstBadLine(t *testing.T) {
	store, _ := setupTestStore(t, "color")

	input := strings.Join([]string{
		`{"id":"a","color":"red"}`,
		`{"color":"blue"}`,
		`{"id":"c","color":"green"}`,
	}, "\n")

	n, err := store.Import(context.Background(), strings.NewReader(input))
	if !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}
	if n != 1 {
		t.Errorf("imported %d records, want 1", n)
	}

	var ewc *ErrorWithContext
	if !errors.As(err, &ewc) || ewc.Context["line"] != 2 {
		t.Errorf("expected line 2 in error context, got %v", err)
	}

	if rec, _ := store.Get(context.Background(), "c"); rec != nil {
		t.Error("records after the bad line should not be imported")
	}
}

func TestExportTo_ImportFrom(t *testing.T) {
	ctx := context.Background()
	archive := newMemoryArchive()

	src, _ := setupTestStore(t, "color")
	mustPut(t, src, Record{"id": "a", "color": "red"})
	mustPut(t, src, Record{"id": "b", "color": "blue"})

	n, err := src.ExportTo(ctx, archive, "snapshots/today.jsonl")
	if err != nil {
		t.Fatalf("ExportTo failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d records, want 2", n)
	}

	names, _ := archive.List(ctx, "snapshots/")
	if !reflect.DeepEqual(names, []string{"snapshots/today.jsonl"}) {
		t.Errorf("archive contents = %v", names)
	}

	dst, _ := setupTestStore(t, "color")
	n, err = dst.ImportFrom(ctx, archive, "snapshots/today.jsonl")
	if err != nil {
		t.Fatalf("ImportFrom failed: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d records, want 2", n)
	}
	if got := mustFilter(t, dst, Filter{"color": Eq("blue")}); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("filter after ImportFrom = %v, want [b]", got)
	}

	if _, err := dst.ImportFrom(ctx, archive, "missing.jsonl"); !errors.Is(err, ErrArchiveNotFound) {
		t.Errorf("expected ErrArchiveNotFound, got %v", err)
	}
}

func TestExportTo_UploadFailure(t *testing.T) {
	archive := newMemoryArchive()
	archive.failUp = errors.New("bucket unavailable")

	store, _ := setupTestStore(t, "color")
	mustPut(t, store, Record{"id": "a", "color": "red"})

	if _, err := store.ExportTo(context.Background(), archive, "x.jsonl"); err == nil {
		t.Fatal("expected upload failure")
	}
}
