// Package config defines mbamon's runtime configuration: flag
// registration, an optional TOML overlay, and the single-instance lock
// file guarding a RootDir from concurrent monitors.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
)

const (
	defaultRootDir     = "/var/run/mbamon"
	defaultKernelMask  = 0xFFFF_0000_0000_0000
	defaultTBCacheSize = 1 << 16
)

// Config holds every knob the monitor loop and its CLI need. Fields
// tagged `flag:"..."` are populated by NewFromFlags and may additionally
// be overridden by ApplyTOML when not explicitly set on the command
// line; flags always win over the TOML overlay.
type Config struct {
	RootDir       string `flag:"root"`
	LogPath       string `flag:"log"`
	LogFormat     string `flag:"log-format"`
	Debug         bool   `flag:"debug"`
	KernelMask    uint64 `flag:"kernel-mask"`
	TBCacheSize   int    `flag:"tb-cache-size"`
	MonitorSocket string `flag:"monitor-socket"`
	InstanceLock  string `flag:"instance-lock"`

	explicitlySet map[string]struct{}
}

// RegisterFlags registers every flag backing a Config field.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("root", defaultRootDir, "root directory for the instance lock and default socket paths.")
	fs.String("log", "", "file path where debug information is written, default is stderr.")
	fs.String("log-format", "text", "log format name, recorded in the config; the logger always writes text and does not read this setting.")
	fs.Bool("debug", false, "enable debug logging.")
	fs.Uint64("kernel-mask", defaultKernelMask, "mask identifying kernel-half guest addresses, e.g. 0xffff000000000000 for a 64-bit Windows-shaped guest.")
	fs.Int("tb-cache-size", defaultTBCacheSize, "maximum number of translation blocks held in the TB cache.")
	fs.String("monitor-socket", "", "path to the Unix domain socket exposing hook/tracer commands. Empty disables the monitor interface.")
	fs.String("instance-lock", "", "path to the instance lock file; defaults to <root>/instance.lock.")
	fs.String("config", "", "path to a TOML overlay file applied after flags; explicit flags always take precedence.")
}

// ConfigPath returns the -config flag's value, the path NewFromFlags'
// caller should pass to ApplyTOML, or "" if none was given.
func ConfigPath(fs *flag.FlagSet) string {
	if fl := fs.Lookup("config"); fl != nil {
		return fl.Value.String()
	}
	return ""
}

// NewFromFlags builds a Config from a parsed FlagSet, recording which
// flags were explicitly set so a later ApplyTOML call knows not to
// clobber them.
func NewFromFlags(fs *flag.FlagSet) (*Config, error) {
	conf := &Config{explicitlySet: map[string]struct{}{}}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := fs.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("config: flag %q not registered", name))
		}
		if err := setField(obj.Field(i), fl.Value.String()); err != nil {
			return nil, fmt.Errorf("config: flag --%s: %w", name, err)
		}
		if isFlagExplicitlySet(fs, name) {
			conf.explicitlySet[name] = struct{}{}
		}
	}

	if conf.InstanceLock == "" {
		conf.InstanceLock = filepath.Join(conf.RootDir, "instance.lock")
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func setField(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return err
		}
		field.SetUint(v)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// isFlagExplicitlySet reports whether name was set on the command line,
// as opposed to merely carrying its registered default.
func isFlagExplicitlySet(fs *flag.FlagSet, name string) bool {
	explicit := false
	fs.Visit(func(fl *flag.Flag) {
		explicit = explicit || fl.Name == name
	})
	return explicit
}

func (c *Config) validate() error {
	if c.TBCacheSize <= 0 {
		return fmt.Errorf("config: tb-cache-size must be positive, got %d", c.TBCacheSize)
	}
	if c.RootDir == "" {
		return fmt.Errorf("config: root must not be empty")
	}
	return nil
}

// tomlOverlay mirrors Config with pointer fields, so TOML keys absent
// from the file are distinguishable from explicit zero values.
type tomlOverlay struct {
	RootDir       *string `toml:"root"`
	LogPath       *string `toml:"log"`
	LogFormat     *string `toml:"log_format"`
	Debug         *bool   `toml:"debug"`
	KernelMask    *uint64 `toml:"kernel_mask"`
	TBCacheSize   *int    `toml:"tb_cache_size"`
	MonitorSocket *string `toml:"monitor_socket"`
	InstanceLock  *string `toml:"instance_lock"`
}

// ApplyTOML overlays path's contents onto c, skipping any field whose
// flag was explicitly set on the command line. Flags always win.
func (c *Config) ApplyTOML(path string) error {
	var overlay tomlOverlay
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if overlay.RootDir != nil && !c.isExplicit("root") {
		c.RootDir = *overlay.RootDir
	}
	if overlay.LogPath != nil && !c.isExplicit("log") {
		c.LogPath = *overlay.LogPath
	}
	if overlay.LogFormat != nil && !c.isExplicit("log-format") {
		c.LogFormat = *overlay.LogFormat
	}
	if overlay.Debug != nil && !c.isExplicit("debug") {
		c.Debug = *overlay.Debug
	}
	if overlay.KernelMask != nil && !c.isExplicit("kernel-mask") {
		c.KernelMask = *overlay.KernelMask
	}
	if overlay.TBCacheSize != nil && !c.isExplicit("tb-cache-size") {
		c.TBCacheSize = *overlay.TBCacheSize
	}
	if overlay.MonitorSocket != nil && !c.isExplicit("monitor-socket") {
		c.MonitorSocket = *overlay.MonitorSocket
	}
	if overlay.InstanceLock != nil && !c.isExplicit("instance-lock") {
		c.InstanceLock = *overlay.InstanceLock
	}

	return c.validate()
}

func (c *Config) isExplicit(name string) bool {
	_, ok := c.explicitlySet[name]
	return ok
}

// AcquireInstanceLock takes an exclusive, non-blocking lock on
// c.InstanceLock, creating its parent directory if necessary. The
// returned Flock must be closed (which releases the lock) when the
// monitor shuts down.
func (c *Config) AcquireInstanceLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(c.InstanceLock), 0o755); err != nil {
		return nil, fmt.Errorf("config: creating %s: %w", filepath.Dir(c.InstanceLock), err)
	}
	fl := flock.New(c.InstanceLock)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("config: acquiring instance lock %s: %w", c.InstanceLock, err)
	}
	if !locked {
		return nil, fmt.Errorf("config: another instance already holds %s", c.InstanceLock)
	}
	return fl, nil
}
