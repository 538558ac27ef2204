// Package directories resolves where the bridge keeps its configuration
// and logs, following the XDG conventions with home-relative fallbacks.
package directories

import (
	"fmt"
	"os"
	"path/filepath"
)

// UserProvider abstracts the home directory lookup for tests
type UserProvider interface {
	HomeDir() (string, error)
}

// EnvProvider abstracts environment access for tests
type EnvProvider interface {
	Getenv(key string) string
}

// DefaultUserProvider reads the real user's home directory
type DefaultUserProvider struct{}

func (DefaultUserProvider) HomeDir() (string, error) { return os.UserHomeDir() }

// DefaultEnvProvider reads the real process environment
type DefaultEnvProvider struct{}

func (DefaultEnvProvider) Getenv(key string) string { return os.Getenv(key) }

// DirectoryResolver picks per-user directories for one application name
type DirectoryResolver struct {
	appName string
	user    UserProvider
	env     EnvProvider
	create  bool
}

// NewDirectoryResolver builds a resolver. When create is true, resolved
// directories are created on first use.
func NewDirectoryResolver(appName string, user UserProvider, env EnvProvider, create bool) *DirectoryResolver {
	return &DirectoryResolver{appName: appName, user: user, env: env, create: create}
}

// GetConfigDirectory returns the per-user configuration directory:
// $XDG_CONFIG_HOME/<app>, or ~/.config/<app> when the variable is unset.
func (r *DirectoryResolver) GetConfigDirectory() (string, error) {
	base := r.env.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := r.user.HomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}

		base = filepath.Join(home, ".config")
	}

	return r.ensure(filepath.Join(base, r.appName))
}

// GetLogDirectory returns the per-user log directory:
// $XDG_STATE_HOME/<app>/logs, or ~/.local/state/<app>/logs.
func (r *DirectoryResolver) GetLogDirectory() (string, error) {
	base := r.env.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := r.user.HomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}

		base = filepath.Join(home, ".local", "state")
	}

	return r.ensure(filepath.Join(base, r.appName, "logs"))
}

func (r *DirectoryResolver) ensure(dir string) (string, error) {
	if r.create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return dir, nil
}
