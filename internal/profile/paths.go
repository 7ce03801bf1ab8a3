// Package profile locates the on-disk state of a named profile: one room
// binding, its cache database, logs and lock.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.roomsync, or $ROOMSYNC_HOME when set.
func BaseDir() string {
	if d := os.Getenv("ROOMSYNC_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".roomsync")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the daemon status socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "roomd.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// CachePath returns the sqlite timeline cache path.
func CachePath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// PreviewDir holds optimistic upload previews while they are in flight.
func PreviewDir(name string) string {
	return filepath.Join(Dir(name), "previews")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file path for a binary of the given name.
func LogPath(name, binary string) string {
	return filepath.Join(LogDir(name), binary+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), PreviewDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
