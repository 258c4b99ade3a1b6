package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func newFlagSet(t *testing.T) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

func TestNewFromFlagsDefaults(t *testing.T) {
	fs := newFlagSet(t)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conf, err := NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	if conf.RootDir != defaultRootDir {
		t.Fatalf("RootDir = %q, want %q", conf.RootDir, defaultRootDir)
	}
	if conf.KernelMask != defaultKernelMask {
		t.Fatalf("KernelMask = %#x, want %#x", conf.KernelMask, uint64(defaultKernelMask))
	}
	if conf.InstanceLock != filepath.Join(defaultRootDir, "instance.lock") {
		t.Fatalf("InstanceLock = %q, want derived default", conf.InstanceLock)
	}
}

func TestNewFromFlagsOverride(t *testing.T) {
	fs := newFlagSet(t)
	if err := fs.Parse([]string{"--tb-cache-size=4096", "--kernel-mask=0xffff800000000000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conf, err := NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	if conf.TBCacheSize != 4096 {
		t.Fatalf("TBCacheSize = %d, want 4096", conf.TBCacheSize)
	}
	if conf.KernelMask != 0xffff800000000000 {
		t.Fatalf("KernelMask = %#x, want 0xffff800000000000", conf.KernelMask)
	}
}

func TestNewFromFlagsRejectsNonPositiveTBCacheSize(t *testing.T) {
	fs := newFlagSet(t)
	if err := fs.Parse([]string{"--tb-cache-size=0"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := NewFromFlags(fs); err == nil {
		t.Fatalf("NewFromFlags succeeded with tb-cache-size=0, want error")
	}
}

func TestApplyTOMLDoesNotOverrideExplicitFlags(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "mbamon.toml")
	const contents = `
root = "/overlay/root"
tb_cache_size = 2048
debug = true
`
	if err := os.WriteFile(tomlPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := newFlagSet(t)
	if err := fs.Parse([]string{"--root=/flag/root"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conf, err := NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}

	if err := conf.ApplyTOML(tomlPath); err != nil {
		t.Fatalf("ApplyTOML: %v", err)
	}

	if conf.RootDir != "/flag/root" {
		t.Fatalf("RootDir = %q, want the explicitly flagged value to win", conf.RootDir)
	}
	if conf.TBCacheSize != 2048 {
		t.Fatalf("TBCacheSize = %d, want 2048 from the TOML overlay", conf.TBCacheSize)
	}
	if !conf.Debug {
		t.Fatalf("Debug = false, want true from the TOML overlay")
	}
}

func TestAcquireInstanceLockExclusive(t *testing.T) {
	dir := t.TempDir()
	fs := newFlagSet(t)
	if err := fs.Parse([]string{"--root=" + dir}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conf, err := NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}

	lock, err := conf.AcquireInstanceLock()
	if err != nil {
		t.Fatalf("AcquireInstanceLock: %v", err)
	}
	defer lock.Close()

	if _, err := conf.AcquireInstanceLock(); err == nil {
		t.Fatalf("second AcquireInstanceLock succeeded, want contention error")
	}
}
