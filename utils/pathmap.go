package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspacePathMapper handles path conversion between the machine running
// the bridge and the environment running the analyzer. When the analyzer
// runs in a container (or any remount of the workspace), document URIs must
// carry the analyzer's view of the filesystem, not ours.
type WorkspacePathMapper struct {
	localRoot    string // /home/user/projects/app
	analyzerRoot string // /workspace
	enabled      bool   // false means both sides see the same paths
}

// NewWorkspacePathMapper creates an enabled mapper between the two roots
func NewWorkspacePathMapper(localRoot, analyzerRoot string) (*WorkspacePathMapper, error) {
	if localRoot == "" {
		return nil, errors.New("local root path cannot be empty")
	}

	if analyzerRoot == "" {
		return nil, errors.New("analyzer root path cannot be empty")
	}

	cleanLocalRoot := filepath.ToSlash(filepath.Clean(localRoot))

	cleanAnalyzerRoot := strings.TrimSuffix(analyzerRoot, "/")
	if !strings.HasPrefix(cleanAnalyzerRoot, "/") {
		return nil, errors.New("analyzer root must be an absolute path starting with /")
	}

	return &WorkspacePathMapper{
		localRoot:    cleanLocalRoot,
		analyzerRoot: cleanAnalyzerRoot,
		enabled:      true,
	}, nil
}

// NewWorkspacePathMapperFromEnv creates a mapper from the environment.
// ANALYZER_WORKSPACE_ROOT names the analyzer's view of the workspace;
// without it the mapper is disabled and paths pass through untouched.
func NewWorkspacePathMapperFromEnv() (*WorkspacePathMapper, error) {
	analyzerRoot := os.Getenv("ANALYZER_WORKSPACE_ROOT")
	if analyzerRoot == "" {
		return &WorkspacePathMapper{enabled: false}, nil
	}

	localRoot := os.Getenv("WORKSPACE_ROOT")
	if localRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}

		localRoot = cwd
	}

	return NewWorkspacePathMapper(localRoot, analyzerRoot)
}

// IsEnabled reports whether paths are being translated
func (m *WorkspacePathMapper) IsEnabled() bool {
	return m.enabled
}

// LocalRoot returns the bridge-side workspace root
func (m *WorkspacePathMapper) LocalRoot() string {
	return m.localRoot
}

// AnalyzerRoot returns the analyzer-side workspace root
func (m *WorkspacePathMapper) AnalyzerRoot() string {
	return m.analyzerRoot
}

// ToAnalyzerPath converts a local path into the analyzer's view
func (m *WorkspacePathMapper) ToAnalyzerPath(localPath string) (string, error) {
	if !m.enabled {
		return localPath, nil
	}

	if localPath == "" {
		return "", errors.New("local path cannot be empty")
	}

	cleanPath := filepath.Clean(strings.ReplaceAll(localPath, "\\", "/"))

	if !strings.HasPrefix(cleanPath, m.localRoot) {
		return "", fmt.Errorf("path %s is outside workspace root %s", cleanPath, m.localRoot)
	}

	relativePath := strings.TrimPrefix(strings.TrimPrefix(cleanPath, m.localRoot), "/")
	if relativePath == "" {
		return m.analyzerRoot, nil
	}

	return filepath.Clean(filepath.Join(m.analyzerRoot, relativePath)), nil
}

// ToLocalPath converts an analyzer-side path back into the local view
func (m *WorkspacePathMapper) ToLocalPath(analyzerPath string) (string, error) {
	if !m.enabled {
		return analyzerPath, nil
	}

	if analyzerPath == "" {
		return "", errors.New("analyzer path cannot be empty")
	}

	cleanPath := filepath.Clean(analyzerPath)

	if !strings.HasPrefix(cleanPath, m.analyzerRoot) {
		return "", fmt.Errorf("path %s is outside analyzer root %s", cleanPath, m.analyzerRoot)
	}

	relativePath := strings.TrimPrefix(strings.TrimPrefix(cleanPath, m.analyzerRoot), "/")
	if relativePath == "" {
		return m.localRoot, nil
	}

	return filepath.Clean(filepath.Join(m.localRoot, relativePath)), nil
}

// NormalizeURI rewrites a local file:// URI (or bare path) into the
// analyzer's view of the workspace.
func (m *WorkspacePathMapper) NormalizeURI(uri string) (string, error) {
	if !m.enabled {
		return uri, nil
	}

	localPath := uri
	if strings.HasPrefix(uri, "file://") {
		var err error

		localPath, err = URIToPath(uri)
		if err != nil {
			return "", err
		}
	}

	analyzerPath, err := m.ToAnalyzerPath(localPath)
	if err != nil {
		return "", err
	}

	return PathToURI(analyzerPath), nil
}

// PathToURI converts an absolute filesystem path to a file:// URI
func PathToURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return "file://" + p
}

// URIToPath extracts the filesystem path from a file:// URI
func URIToPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("not a file URI: %s", uri)
	}

	p := strings.TrimPrefix(uri, "file://")

	// Windows URIs carry the drive letter after the leading slash
	// (file:///C:/path)
	if len(p) > 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}

	return filepath.FromSlash(p), nil
}
