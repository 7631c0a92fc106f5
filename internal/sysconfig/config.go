// Package sysconfig loads sys.cfg, the INI-format configuration file
// described in spec.md §6.
package sysconfig

import (
	"fmt"
	"os"
	"syscall"

	"gopkg.in/ini.v1"
)

// RequiredDirMode is the mode every configured directory must carry.
const RequiredDirMode = 0700

// Config is the parsed sys.cfg.
type Config struct {
	Directories Directories
	Misc        Miscellaneous
}

// Directories holds the `[Directories]` section.
type Directories struct {
	Logs    string
	Cache   string
	Data    string
	Plugins string
}

// Miscellaneous holds the `[Miscellaneous]` section.
type Miscellaneous struct {
	MaxExternalCommands int
	InitialEnvironment  []string
	DefaultPaths        []string
}

// Load reads and validates sys.cfg at path, per spec.md §6: all
// directories must exist, be owned root:root, and have mode 0700
// (`Logs` is auto-created with these properties if missing).
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("sysconfig: load %s: %w", path, err)
	}

	cfg := &Config{}
	dirSection := file.Section("Directories")
	cfg.Directories = Directories{
		Logs:    dirSection.Key("Logs").String(),
		Cache:   dirSection.Key("Cache").String(),
		Data:    dirSection.Key("Data").String(),
		Plugins: dirSection.Key("Plugins").String(),
	}

	miscSection := file.Section("Miscellaneous")
	cfg.Misc = Miscellaneous{
		MaxExternalCommands: miscSection.Key("Max External Commands").MustInt(64),
		InitialEnvironment:  miscSection.Key("Initial environment").Strings(","),
		DefaultPaths:        miscSection.Key("Default paths").Strings(":"),
	}

	if err := cfg.validateDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateDirectories() error {
	dirs := map[string]string{
		"Logs":    c.Directories.Logs,
		"Cache":   c.Directories.Cache,
		"Data":    c.Directories.Data,
		"Plugins": c.Directories.Plugins,
	}
	for name, dir := range dirs {
		if dir == "" {
			continue
		}
		if name == "Logs" {
			if err := ensureDir(dir); err != nil {
				return fmt.Errorf("sysconfig: %s directory: %w", name, err)
			}
		}
		if err := checkDirOwnershipAndMode(dir); err != nil {
			return fmt.Errorf("sysconfig: %s directory %s: %w", name, dir, err)
		}
	}
	return nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, RequiredDirMode)
}

func checkDirOwnershipAndMode(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", dir, ErrDirNotFound)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w (not a directory)", dir, ErrDirMode)
	}
	if info.Mode().Perm() != RequiredDirMode {
		return fmt.Errorf("%s: %w (found mode %04o, want %04o)", dir, ErrDirMode, info.Mode().Perm(), RequiredDirMode)
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("ownership check unsupported on this platform")
	}
	if sys.Uid != 0 || sys.Gid != 0 {
		return fmt.Errorf("%s: %w (not owned root:root)", dir, ErrDirMode)
	}
	return nil
}

// DataFiles returns the directories the rule-file parser scans: only the
// Data directory (when configured). The Plugins directory is not included.
func (c *Config) DataFiles() []string {
	var dirs []string
	if c.Directories.Data != "" {
		dirs = append(dirs, c.Directories.Data)
	}
	return dirs
}
