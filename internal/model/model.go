// Package model defines the entity shapes shared across TempleDB's
// storage, version, and checkout layers. Keeping them in one package
// (rather than letting each layer define its own row struct, as the
// teacher's internal/types package does for issues) avoids the
// dynamically-typed row-mapping anti-pattern spec.md's design notes call
// out: every query returns one of these typed shapes, never a map.
package model

import "time"

// ContentType classifies a ContentBlob's payload.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentBinary ContentType = "binary"
)

// ChangeType classifies a FileState's relationship to its commit's parent.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// WorkingStatus is the working-state machine's state per spec.md §4.E.
type WorkingStatus string

const (
	StateUnmodified WorkingStatus = "unmodified"
	StateModified   WorkingStatus = "modified"
	StateAdded      WorkingStatus = "added"
	StateDeleted    WorkingStatus = "deleted"
	StateConflict   WorkingStatus = "conflict"
)

// ConflictType distinguishes the two conflict shapes spec.md §4.F defines.
type ConflictType string

const (
	ConflictVersionMismatch   ConflictType = "version_mismatch"
	ConflictContentDiverged   ConflictType = "content_diverged"
)

// ConflictResolution records how an open conflict was closed.
type ConflictResolution string

const (
	ResolutionNone      ConflictResolution = ""
	ResolutionForce     ConflictResolution = "force"
	ResolutionAbandoned ConflictResolution = "abandoned"
)

// Project is a globally unique, never-implicitly-deleted source root.
type Project struct {
	ID        int64
	Slug      string
	Name      string
	Metadata  string // opaque, caller-defined JSON; validated on write only
	CreatedAt time.Time
}

// FileType is a row in the global type/category dictionary the scanner
// matches paths against.
type FileType struct {
	ID       int64
	Name     string
	Category string
}

// ProjectFile is one (project, path) identity with its current-version
// pointer into ContentBlob via FileContents.
type ProjectFile struct {
	ID               int64
	ProjectID        int64
	Path             string
	FileTypeID       int64
	LinesOfCode      int
	Owner            string
	CurrentHash      string
	CurrentVersion   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ContentBlob is an immutable, content-addressed byte sequence.
type ContentBlob struct {
	Hash        string
	ContentType ContentType
	SizeBytes   int64
	LineCount   int
}

// FileContents is a historical or current version pointer for a file.
type FileContents struct {
	FileID      int64
	ContentHash string
	Version     int
	IsCurrent   bool
}

// Branch is a named, mutable pointer to a head commit within one project.
type Branch struct {
	ID           int64
	ProjectID    int64
	Name         string
	HeadCommitID *int64
	IsDefault    bool
	IsProtected  bool
	CreatedAt    time.Time
}

// Commit is an immutable, content-addressed labeled snapshot.
type Commit struct {
	ID             int64
	ProjectID      int64
	BranchID       int64
	CommitHash     string
	ParentID       *int64
	MergeParentID  *int64
	Author         string
	Email          string
	Message        string
	Timestamp      time.Time
	FilesChanged   int
	LinesAdded     int
	LinesRemoved   int
}

// FileState captures one file's content within one commit.
type FileState struct {
	CommitID     int64
	FileID       int64
	ContentHash  string
	ChangeType   ChangeType
	PreviousPath string // set only when ChangeType == ChangeRenamed
}

// WorkingState is the per-(project, branch, file) editing status.
type WorkingState struct {
	ProjectID   int64
	BranchID    int64
	FileID      int64
	ContentHash string
	State       WorkingStatus
	Staged      bool
}

// Checkout records where a project tree was materialized on disk.
type Checkout struct {
	ID            int64
	ProjectID     int64
	BranchID      int64
	CheckoutPath  string
	CreatedAt     time.Time
	LastSyncAt    time.Time
}

// CheckoutSnapshot is the optimistic-locking basis captured at checkout
// time: the (content_hash, version) an agent last observed for a file.
type CheckoutSnapshot struct {
	CheckoutID  int64
	FileID      int64
	ContentHash string
	Version     int
}

// Conflict records a detected divergence between a checkout's basis and
// the store's current state for a file.
type Conflict struct {
	ID                 int64
	CheckoutID         int64
	FileID             int64
	Path               string
	BaseVersion        int
	BaseHash           string
	CurrentVersion     int
	CurrentHash        string
	ConflictType       ConflictType
	Resolution         ConflictResolution
	ResolvedBy         string
	OpenedAt           time.Time
	ResolvedAt         *time.Time
}

// StagingEntry is a WorkingState row with Staged == true, included in the
// next Commit call for its (project, branch).
type StagingEntry struct {
	FileID      int64
	Path        string
	ContentHash string
	ChangeType  ChangeType
}

// FileDescriptor is what the Scanner produces for one filesystem entry,
// before it has been assigned a ProjectFile identity.
type FileDescriptor struct {
	Path          string // relative to the scanned root
	AbsPath       string
	SizeBytes     int64
	ContentType   ContentType
	TypeName      string
	Category      string
	PrimaryComponent string
	LineCount     int
}
