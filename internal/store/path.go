package store

import "strings"

// Path addresses a location on the remote Share instance: a repo name plus
// zero or more name segments (e.g. a user handle, project, and branch).
// Path is opaque to the sync engine beyond serialization — it is never
// inspected for routing decisions inside this package.
type Path struct {
	RepoName string
	Segments []string
}

// NewPath builds a Path from a repo name and segments.
func NewPath(repoName string, segments ...string) Path {
	return Path{RepoName: repoName, Segments: segments}
}

// String renders the path as "repoName/seg1/seg2/...", the form used in
// log messages and CLI output. The wire encoding (JSON) is defined on the
// transport request/response types, not here.
func (p Path) String() string {
	if len(p.Segments) == 0 {
		return p.RepoName
	}
	return p.RepoName + "/" + strings.Join(p.Segments, "/")
}
