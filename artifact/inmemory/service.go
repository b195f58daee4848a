// Package inmemory provides the in-memory artifact service.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tomekpanek/agentkit/artifact"
)

var _ artifact.Service = (*Service)(nil)

// Service is an in-memory artifact.Service suited to tests and development.
type Service struct {
	mu sync.RWMutex
	// artifacts maps a storage path to its version list.
	artifacts map[string][]*artifact.Artifact
}

// NewService creates an in-memory artifact service.
func NewService() *Service {
	return &Service{
		artifacts: make(map[string][]*artifact.Artifact),
	}
}

// SaveArtifact appends a new version and returns its number.
func (s *Service) SaveArtifact(ctx context.Context, sessionInfo artifact.SessionInfo, filename string, art *artifact.Artifact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := artifact.BuildPath(sessionInfo, filename)
	version := len(s.artifacts[path])
	s.artifacts[path] = append(s.artifacts[path], art)
	return version, nil
}

// LoadArtifact returns the requested version, or the latest when version is nil.
func (s *Service) LoadArtifact(ctx context.Context, sessionInfo artifact.SessionInfo, filename string, version *int) (*artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := artifact.BuildPath(sessionInfo, filename)
	versions := s.artifacts[path]
	if len(versions) == 0 {
		return nil, nil
	}

	idx := len(versions) - 1
	if version != nil {
		idx = *version
		if idx < 0 || idx >= len(versions) {
			return nil, fmt.Errorf("version %d does not exist", *version)
		}
	}
	return versions[idx], nil
}

// ListArtifactKeys lists session-scoped and user-scoped filenames, sorted.
func (s *Service) ListArtifactKeys(ctx context.Context, sessionInfo artifact.SessionInfo) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionPrefix := artifact.BuildSessionPrefix(sessionInfo)
	userPrefix := artifact.BuildUserNamespacePrefix(sessionInfo)

	var filenames []string
	for path := range s.artifacts {
		switch {
		case strings.HasPrefix(path, sessionPrefix):
			filenames = append(filenames, strings.TrimPrefix(path, sessionPrefix))
		case strings.HasPrefix(path, userPrefix):
			filenames = append(filenames, strings.TrimPrefix(path, userPrefix))
		}
	}
	sort.Strings(filenames)
	return filenames, nil
}

// DeleteArtifact removes every version of the artifact.
func (s *Service) DeleteArtifact(ctx context.Context, sessionInfo artifact.SessionInfo, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.artifacts, artifact.BuildPath(sessionInfo, filename))
	return nil
}

// ListVersions lists the version numbers of the artifact.
func (s *Service) ListVersions(ctx context.Context, sessionInfo artifact.SessionInfo, filename string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[artifact.BuildPath(sessionInfo, filename)]
	result := make([]int, len(versions))
	for i := range versions {
		result[i] = i
	}
	return result, nil
}
