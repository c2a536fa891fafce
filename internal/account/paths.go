package account

import (
	"os"
	"path/filepath"
)

// EnvHome relocates the base directory, mainly for tests and sandboxes.
const EnvHome = "BBCHAT_HOME"

// BaseDir returns $BBCHAT_HOME, or ~/.bbchat.
func BaseDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bbchat")
}

// Dir returns the account-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "accounts", name)
}

// SocketPath returns the health socket path for an account.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "health.sock")
}

// LockPath returns the lock file path for an account.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local message cache path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "bbchat.db")
}

// LogDir returns the log directory for an account.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bbchat.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvFilePath returns the optional global .env file path.
func EnvFilePath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
