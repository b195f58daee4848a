// Package artifact provides named, versioned binary payloads linked to
// a session or to a user across sessions.
package artifact

import "context"

// Artifact is a binary payload, such as an image or a document.
type Artifact struct {
	// Data contains the raw bytes.
	Data []byte `json:"data,omitempty"`
	// MimeType is the IANA MIME type of the data.
	MimeType string `json:"mime_type,omitempty"`
	// URL is an optional location where the artifact can be fetched.
	URL string `json:"url,omitempty"`
	// Name is an optional display name.
	Name string `json:"name,omitempty"`
}

// SessionInfo identifies the session an artifact operation targets.
type SessionInfo struct {
	AppName   string
	UserID    string
	SessionID string
}

// Service stores and retrieves artifacts.
type Service interface {
	// SaveArtifact stores a new version of the named artifact and returns
	// its version number. The first version is 0.
	SaveArtifact(ctx context.Context, sessionInfo SessionInfo, filename string, artifact *Artifact) (int, error)

	// LoadArtifact returns the named artifact, or nil when absent.
	// A nil version selects the latest.
	LoadArtifact(ctx context.Context, sessionInfo SessionInfo, filename string, version *int) (*Artifact, error)

	// ListArtifactKeys lists the artifact filenames visible to the session,
	// including user-namespaced ones.
	ListArtifactKeys(ctx context.Context, sessionInfo SessionInfo) ([]string, error)

	// DeleteArtifact removes the named artifact and all its versions.
	// Absent artifacts are ignored.
	DeleteArtifact(ctx context.Context, sessionInfo SessionInfo, filename string) error

	// ListVersions lists the available versions of the named artifact.
	ListVersions(ctx context.Context, sessionInfo SessionInfo, filename string) ([]int, error)
}
