package sysconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func rootDir(t *testing.T, mode os.FileMode) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "d")
	if err := os.Mkdir(dir, mode); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Chmod(dir, mode); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(dir, 0, 0); err != nil {
			t.Fatalf("Chown: %v", err)
		}
	}
	return dir
}

func TestCheckDirOwnershipAndModeAccepts0700RootOwned(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root to own the directory as root:root")
	}
	dir := rootDir(t, RequiredDirMode)
	if err := checkDirOwnershipAndMode(dir); err != nil {
		t.Errorf("checkDirOwnershipAndMode: %v", err)
	}
}

func TestCheckDirOwnershipAndModeRejectsWrongMode(t *testing.T) {
	dir := rootDir(t, 0755)
	err := checkDirOwnershipAndMode(dir)
	if err == nil {
		t.Fatal("expected an error for a 0755 directory")
	}
	if !errors.Is(err, ErrDirMode) {
		t.Errorf("err = %v, want wrapping ErrDirMode", err)
	}
}

func TestCheckDirOwnershipAndModeRejectsMissingDir(t *testing.T) {
	err := checkDirOwnershipAndMode(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrDirNotFound) {
		t.Errorf("err = %v, want wrapping ErrDirNotFound", err)
	}
}

func TestEnsureDirCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := ensureDir(dir); err != nil {
		t.Fatalf("ensureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory to have been created")
	}
	if info.Mode().Perm() != RequiredDirMode {
		t.Errorf("mode = %04o, want %04o", info.Mode().Perm(), RequiredDirMode)
	}
}

func TestEnsureDirLeavesExistingDirectoryAlone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := os.Mkdir(dir, 0750); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := ensureDir(dir); err != nil {
		t.Fatalf("ensureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0750 {
		t.Errorf("mode = %04o, want the pre-existing 0750 left untouched", info.Mode().Perm())
	}
}

func TestLoadParsesDirectoriesAndMisc(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root to satisfy the root:root directory ownership check")
	}
	dataDir := rootDir(t, RequiredDirMode)
	pluginsDir := rootDir(t, RequiredDirMode)
	cacheDir := rootDir(t, RequiredDirMode)
	logsDir := filepath.Join(t.TempDir(), "logs") // left for Load to auto-create

	cfgPath := filepath.Join(t.TempDir(), "sys.cfg")
	content := "[Directories]\n" +
		"Logs = " + logsDir + "\n" +
		"Cache = " + cacheDir + "\n" +
		"Data = " + dataDir + "\n" +
		"Plugins = " + pluginsDir + "\n" +
		"\n[Miscellaneous]\n" +
		"Max External Commands = 128\n" +
		"Initial environment = PATH,HOME\n" +
		"Default paths = /usr/bin:/bin\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(filepath.Dir(logsDir), 0, 0); err != nil {
			t.Fatalf("Chown: %v", err)
		}
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Directories.Data != dataDir {
		t.Errorf("Data = %q, want %q", cfg.Directories.Data, dataDir)
	}
	if cfg.Misc.MaxExternalCommands != 128 {
		t.Errorf("MaxExternalCommands = %d, want 128", cfg.Misc.MaxExternalCommands)
	}
	want := []string{"PATH", "HOME"}
	if len(cfg.Misc.InitialEnvironment) != len(want) {
		t.Fatalf("InitialEnvironment = %v, want %v", cfg.Misc.InitialEnvironment, want)
	}
	for i := range want {
		if cfg.Misc.InitialEnvironment[i] != want[i] {
			t.Errorf("InitialEnvironment[%d] = %q, want %q", i, cfg.Misc.InitialEnvironment[i], want[i])
		}
	}
	wantPaths := []string{"/usr/bin", "/bin"}
	if len(cfg.Misc.DefaultPaths) != len(wantPaths) {
		t.Fatalf("DefaultPaths = %v, want %v", cfg.Misc.DefaultPaths, wantPaths)
	}

	if dirs := cfg.DataFiles(); len(dirs) != 1 || dirs[0] != dataDir {
		t.Errorf("DataFiles() = %v, want [%q]", dirs, dataDir)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.cfg")); err == nil {
		t.Error("expected an error loading a nonexistent config file")
	}
}

func TestLoadDefaultsMaxExternalCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "sys.cfg")
	if err := os.WriteFile(cfgPath, []byte("[Miscellaneous]\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Misc.MaxExternalCommands != 64 {
		t.Errorf("MaxExternalCommands = %d, want default 64", cfg.Misc.MaxExternalCommands)
	}
}
