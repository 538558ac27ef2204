// Package security validates filesystem paths handed to the bridge before
// anything opens them. Config files, log files and workspace roots all go
// through the same containment check.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetConfigAllowedDirectories builds the directory allowlist for
// configuration files: the user config directory, the working directory,
// and the relative current directory.
func GetConfigAllowedDirectories(configDir, cwd string) []string {
	dirs := make([]string, 0, 3)

	if configDir != "" {
		dirs = append(dirs, configDir)
	}

	if cwd != "" {
		dirs = append(dirs, cwd)
	}

	return append(dirs, ".")
}

// ValidateConfigPath checks that path resolves inside one of the allowed
// directories and returns the resolved absolute path. Symlinks are followed
// when the target exists, so a link cannot smuggle a path out of the
// allowlist; a path that does not exist yet validates by its lexical
// location.
func ValidateConfigPath(path string, allowedDirs []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains a null byte")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	resolved := abs
	if eval, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = eval
	} else if os.IsNotExist(err) {
		// Resolve through the parent so the rule also holds for files that
		// are about to be created, like fresh log files.
		if evalParent, perr := filepath.EvalSymlinks(filepath.Dir(abs)); perr == nil {
			resolved = filepath.Join(evalParent, filepath.Base(abs))
		}
	} else {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	for _, dir := range allowedDirs {
		if dir == "" {
			continue
		}

		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}

		if evalDir, err := filepath.EvalSymlinks(absDir); err == nil {
			absDir = evalDir
		}

		if containsPath(absDir, resolved) {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path %s is outside the allowed directories", path)
}

// ValidateWorkspaceRoot checks that root is an existing directory inside
// the allowed set and returns its resolved absolute path.
func ValidateWorkspaceRoot(root string, allowedDirs []string) (string, error) {
	resolved, err := ValidateConfigPath(root, allowedDirs)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("workspace root not accessible: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("workspace root %s is not a directory", resolved)
	}

	return resolved, nil
}

// containsPath reports whether candidate sits at or below dir
func containsPath(dir, candidate string) bool {
	rel, err := filepath.Rel(dir, candidate)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
