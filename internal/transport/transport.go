// Package transport defines the five Share sync endpoints the core
// consumes, and an HTTP implementation of them. Responses are tagged
// unions expressed the Go way: a Kind enum plus the fields that apply to
// that kind, rather than a sum type.
package transport

import (
	"context"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// Transport is the set of Share sync endpoints the core requires. Any
// connection-level or classified HTTP failure is returned as a
// *transport.Error; endpoint-level semantic outcomes (Success,
// NeedDependencies, NoWritePermission, ...) are reported through the Kind
// field of the returned response, never as an error.
type Transport interface {
	GetCausalHashByPath(ctx context.Context, path store.Path) (*GetCausalHashByPathResponse, error)
	UpdatePath(ctx context.Context, req UpdatePathRequest) (*UpdatePathResponse, error)
	FastForwardPath(ctx context.Context, req FastForwardPathRequest) (*FastForwardPathResponse, error)
	DownloadEntities(ctx context.Context, req DownloadEntitiesRequest) (*DownloadEntitiesResponse, error)
	UploadEntities(ctx context.Context, req UploadEntitiesRequest) (*UploadEntitiesResponse, error)
}

// MaxBatchSize is the maximum number of hashes per upload or download
// request. Implementations may batch smaller but never larger without
// server coordination.
const MaxBatchSize = 50

// --- getCausalHashByPath ---

type GetCausalHashByPathKind int

const (
	GetCausalHashByPathSuccess GetCausalHashByPathKind = iota
	GetCausalHashByPathNoReadPermission
)

type GetCausalHashByPathResponse struct {
	Kind GetCausalHashByPathKind
	// Found and HashJWT are meaningful only when Kind == Success; Found is
	// false when the path has no history (Option<HashJWT> == None).
	Found   bool
	HashJWT hash.HashJWT
	// Path is set on NoReadPermission.
	Path store.Path
}

// --- updatePath ---

type UpdatePathRequest struct {
	Path store.Path
	// ExpectedHash is nil for Option<Hash32> == None (no CAS expectation).
	ExpectedHash *hash.Hash32
	NewHash      hash.Hash32
}

type UpdatePathKind int

const (
	UpdatePathSuccess UpdatePathKind = iota
	UpdatePathHashMismatch
	UpdatePathMissingDependencies
	UpdatePathNoWritePermission
)

type UpdatePathResponse struct {
	Kind UpdatePathKind
	// Expected/Actual are set on HashMismatch.
	Expected hash.Hash32
	Actual   hash.Hash32
	// Missing is the non-empty dependency set on MissingDependencies.
	Missing hash.Set
	// Path is set on NoWritePermission.
	Path store.Path
}

// --- fastForwardPath ---

type FastForwardPathRequest struct {
	Path         store.Path
	ExpectedHash hash.Hash32
	// Hashes is the non-empty chain to apply, oldest-first.
	Hashes []hash.Hash32
}

type FastForwardPathKind int

const (
	FastForwardPathSuccess FastForwardPathKind = iota
	FastForwardPathMissingDependencies
	FastForwardPathNoHistory
	FastForwardPathNotFastForward
	FastForwardPathInvalidParentage
	FastForwardPathNoWritePermission
)

type FastForwardPathResponse struct {
	Kind FastForwardPathKind
	// Missing is set on MissingDependencies.
	Missing hash.Set
	// Parent/Child are set on InvalidParentage.
	Parent hash.Hash32
	Child  hash.Hash32
	// Path is set on NoWritePermission.
	Path store.Path
}

// --- downloadEntities ---

type DownloadEntitiesRequest struct {
	RepoName string
	// Hashes is the non-empty set of entities requested.
	Hashes []hash.HashJWT
}

type DownloadEntitiesResponse struct {
	// Entities is the non-empty map of returned payloads, keyed by the
	// Hash32 each HashJWT in the request addressed.
	Entities map[hash.Hash32]*entity.Entity
}

// --- uploadEntities ---

type UploadEntitiesRequest struct {
	RepoName string
	// Entities is the non-empty batch being uploaded, at most MaxBatchSize
	// entries.
	Entities map[hash.Hash32]*entity.Entity
}

type UploadEntitiesKind int

const (
	UploadEntitiesSuccess UploadEntitiesKind = iota
	UploadEntitiesNeedDependencies
	UploadEntitiesHashMismatchForEntity
	UploadEntitiesNoWritePermission
)

type UploadEntitiesResponse struct {
	Kind UploadEntitiesKind
	// Need is the non-empty set on NeedDependencies.
	Need hash.Set
	// MismatchHash/Expected/Actual are set on HashMismatchForEntity.
	MismatchHash hash.Hash32
	Expected     hash.Hash32
	Actual       hash.Hash32
	// RepoName is set on NoWritePermission.
	RepoName string
}
