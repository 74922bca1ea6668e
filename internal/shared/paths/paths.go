package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// AppDir is the directory name used under runtime and config roots
	AppDir = "sessiond"

	// SocketName is the IPC socket file name
	SocketName = "sessiond.sock"

	// ConfigName is the optional configuration file name
	ConfigName = "config.yaml"
)

// RuntimeDir returns the directory for runtime artifacts such as the socket.
// XDG_RUNTIME_DIR is preferred because it is per-user and tmpfs-backed.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, AppDir)
	}
	return ConfigDir()
}

// ConfigDir returns the directory holding the configuration file
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppDir)
	}
	return filepath.Join(os.TempDir(), AppDir)
}

// SocketPath returns the default IPC socket path
func SocketPath() string {
	return filepath.Join(RuntimeDir(), SocketName)
}

// ConfigFile returns the default configuration file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigName)
}

// SSHDir returns the user's ~/.ssh directory
func SSHDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh"
	}
	return filepath.Join(home, ".ssh")
}

// KnownHostsFile returns the default known_hosts path
func KnownHostsFile() string {
	return filepath.Join(SSHDir(), "known_hosts")
}

// DefaultIdentityFiles returns the private keys tried when none are configured
func DefaultIdentityFiles() []string {
	dir := SSHDir()
	return []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_ecdsa"),
		filepath.Join(dir, "id_rsa"),
	}
}

// EnsureParent creates the parent directory of path with owner-only access
func EnsureParent(path string) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", parent, err)
	}
	return nil
}
