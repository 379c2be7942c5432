package redispoco

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// maxSnapshotLine bounds a single record in a snapshot file.
const maxSnapshotLine = 64 << 20

// Export writes every stored record to w as JSON Lines, one compacted
// object per line, and returns the number written. Blobs that are not JSON
// objects are logged and left out.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	written, skipped := 0, 0
	var line bytes.Buffer

	err := s.scanBlobs(ctx, func(id, raw string) error {
		if _, err := decodeRecord(raw); err != nil {
			skipped++
			s.logger.Warn("skipping unreadable record in export", "namespace", s.keys.Namespace, "id", id, "error", err)
			return nil
		}

		line.Reset()
		if err := json.Compact(&line, []byte(raw)); err != nil {
			return fmt.Errorf("failed to compact record %s: %w", id, err)
		}
		line.WriteByte('\n')
		if _, err := bw.Write(line.Bytes()); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Info("snapshot exported", "namespace", s.keys.Namespace, "records", written, "skipped", skipped)
	return written, nil
}

// Import stores every line of a JSON Lines stream with PutJSON and returns
// the number of records stored. Blank lines are skipped. The first line
// that fails stops the import; records before it stay stored and the error
// carries the line number.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSnapshotLine)

	imported, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		if _, err := s.PutJSON(ctx, line); err != nil {
			return imported, WithContext(err, map[string]interface{}{"line": lineNo})
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("failed to read snapshot at line %d: %w", lineNo+1, err)
	}

	s.logger.Info("snapshot imported", "namespace", s.keys.Namespace, "records", imported)
	return imported, nil
}

// ExportTo streams a snapshot into archive under name.
func (s *Store) ExportTo(ctx context.Context, archive Archive, name string) (int, error) {
	pr, pw := io.Pipe()
	var written int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.Export(gctx, pw)
		written = n
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := archive.Upload(gctx, name, pr)
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return written, err
	}
	return written, nil
}

// ImportFrom imports the snapshot stored in archive under name.
func (s *Store) ImportFrom(ctx context.Context, archive Archive, name string) (int, error) {
	rc, err := archive.Download(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	return s.Import(ctx, rc)
}
