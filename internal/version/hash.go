package version

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TreeEntry is one (path, content_hash) pair contributing to a commit's
// canonical tree encoding.
type TreeEntry struct {
	Path        string
	ContentHash string
}

// CanonicalEncoding is the exact byte layout spec.md §4.E specifies for
// commit hashing. Any two implementations must produce the same hex
// digest for the same logical commit, so every field here is rendered
// with no implementation-specific formatting: times are ISO-8601 UTC at
// second resolution, tree entries are sorted by path, author/email have
// surrounding whitespace collapsed.
type CanonicalEncoding struct {
	Tree       []TreeEntry
	ParentHash string // empty if none
	MergeHash  string // empty if none
	Author     string
	Email      string
	Timestamp  time.Time
	Message    string
}

// Hash computes the commit_hash: SHA-256 of the canonical encoding.
// Grounded on the teacher's hashIssueContent idiom (sha256.New fed by
// ordered Fprintf lines, rendered via "%x"), generalized from a flat
// field list to the tree+parent+merge+author+message layout spec.md
// requires.
func (c CanonicalEncoding) Hash() string {
	h := sha256.New()

	sorted := make([]TreeEntry, len(c.Tree))
	copy(sorted, c.Tree)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	_, _ = fmt.Fprintf(h, "tree\n")
	for _, e := range sorted {
		_, _ = fmt.Fprintf(h, "%s\t%s\n", e.Path, e.ContentHash)
	}
	if c.ParentHash != "" {
		_, _ = fmt.Fprintf(h, "parent %s\n", c.ParentHash)
	}
	if c.MergeHash != "" {
		_, _ = fmt.Fprintf(h, "merge %s\n", c.MergeHash)
	}
	author := strings.TrimSpace(c.Author)
	email := strings.TrimSpace(c.Email)
	iso := c.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339)
	_, _ = fmt.Fprintf(h, "author %s <%s> %s\n", author, email, iso)
	_, _ = fmt.Fprintf(h, "message\n%s\n", c.Message)

	return fmt.Sprintf("%x", h.Sum(nil))
}
