// Package blob implements the content-addressed byte store: spec.md
// §4.C. Content is keyed by the lowercase hex SHA-256 of its bytes,
// classified text-vs-binary at put time, and stored append-only —
// deletion happens only through an explicit GC pass (gc.go), never as a
// side effect of a put or a file going away.
//
// Grounded on the teacher's hashIssueContent (sha256.New fed through
// ordered writes, rendered with fmt.Sprintf("%x", ...)) for the hashing
// idiom, generalized from hashing a handful of string fields to hashing
// an arbitrary byte stream directly.
package blob

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

// sniffWindow bounds how much of a payload the text/binary classifier
// inspects, per spec.md §4.G's "first ≤ 8 KiB".
const sniffWindow = 8 << 10

// Store provides content-addressed blob storage over a store.DB.
type Store struct {
	db *store.DB
}

func New(db *store.DB) *Store {
	return &Store{db: db}
}

// Hash returns the lowercase hex SHA-256 of data without touching the
// store, so callers (e.g. the checkout engine comparing a materialized
// file against its snapshot) can hash without a round trip.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// Classify determines content type and, for text, line count, by
// inspecting at most sniffWindow bytes: a NUL byte or invalid UTF-8
// within that window means binary.
func Classify(data []byte) (model.ContentType, int) {
	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	if !utf8.Valid(window) || containsNUL(window) {
		return model.ContentBinary, 0
	}
	return model.ContentText, countLines(data)
}

func containsNUL(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := 0
	for _, c := range data {
		if c == '\n' {
			n++
		}
	}
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// Put stores data if its hash is not already present and returns the
// hash either way — an idempotent insert, per spec.md §4.C.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := Hash(data)
	contentType, lineCount := Classify(data)

	err := store.Retry(ctx, func() error {
		return s.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `
				INSERT OR IGNORE INTO content_blobs (hash, content_type, size_bytes, line_count, payload)
				VALUES (?, ?, ?, ?, ?)
			`, hash, string(contentType), int64(len(data)), lineCount, data)
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", hash, err)
	}
	return hash, nil
}

// Get retrieves the bytes for hash, or tdberr.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.Raw().QueryRowContext(ctx, `SELECT payload FROM content_blobs WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("blob %s: %w", hash, tdberr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", hash, err)
	}
	return data, nil
}

// Exists reports whether hash is already stored.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.Raw().QueryRowContext(ctx, `SELECT 1 FROM content_blobs WHERE hash = ?`, hash).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", hash, err)
	}
	return true, nil
}

// Info returns the blob's metadata row without its payload.
func (s *Store) Info(ctx context.Context, hash string) (model.ContentBlob, error) {
	var b model.ContentBlob
	var contentType string
	err := s.db.Raw().QueryRowContext(ctx, `
		SELECT hash, content_type, size_bytes, line_count FROM content_blobs WHERE hash = ?
	`, hash).Scan(&b.Hash, &contentType, &b.SizeBytes, &b.LineCount)
	if err == sql.ErrNoRows {
		return model.ContentBlob{}, fmt.Errorf("blob %s: %w", hash, tdberr.ErrNotFound)
	}
	if err != nil {
		return model.ContentBlob{}, fmt.Errorf("blob info %s: %w", hash, err)
	}
	b.ContentType = model.ContentType(contentType)
	return b, nil
}
