package config

import (
	"os"
	"path/filepath"
)

// TasktalkPath returns the root directory for tasktalk data.
// It uses $TASKTALK_PATH if set, otherwise defaults to ~/.tasktalk.
func TasktalkPath() string {
	if v := os.Getenv("TASKTALK_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tasktalk")
	}
	return filepath.Join(home, ".tasktalk")
}

// ConfigPath returns the path to the tasktalk config file.
func ConfigPath() string {
	return filepath.Join(TasktalkPath(), "config.jsonc")
}

// DotenvPath returns the path to the tasktalk .env file.
func DotenvPath() string {
	return filepath.Join(TasktalkPath(), ".env")
}

// ThreadsPath returns the directory holding thread records.
func ThreadsPath() string {
	return filepath.Join(TasktalkPath(), "threads")
}

// EventLogPath returns the directory holding per-thread event logs.
func EventLogPath() string {
	return filepath.Join(TasktalkPath(), "events")
}
