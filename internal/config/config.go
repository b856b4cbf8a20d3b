// Package config loads netkvm configuration from a YAML file.
//
// Values not present in the file keep their defaults, and command-line flags
// override both. The only expansion performed is a leading "~" in paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
)

// DefaultPort is the TCP port the server listens on unless told otherwise.
const DefaultPort = 7878

// Config is the complete netkvm configuration. One file serves both roles.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the machine the physical devices are attached to.
type ServerConfig struct {
	// Listen is the TCP address clients connect to.
	// Default: ":7878"
	Listen string `yaml:"listen"`

	// Mouse and Keyboard are evdev device nodes, e.g. /dev/input/event3.
	Mouse    string `yaml:"mouse"`
	Keyboard string `yaml:"keyboard"`

	// Grab takes the physical devices exclusively so local input reaches
	// the host only through the virtual device.
	// Default: true
	Grab bool `yaml:"grab"`

	// Outbox holds one subdirectory per client id. Files dropped there are
	// copied to that client.
	// Default: ~/.netkvm/outbox
	Outbox string `yaml:"outbox"`

	// Resolution overrides the probed display size when both sides are set.
	Resolution ResolutionConfig `yaml:"resolution"`
}

// ClientConfig configures a machine whose screen sits beside the server's.
type ClientConfig struct {
	// Server is the host:port of the server.
	Server string `yaml:"server"`

	// Side is "left" or "right" of the host screen.
	// Default: right
	Side string `yaml:"side"`

	// Mouse is the local evdev device used to follow local motion.
	Mouse string `yaml:"mouse"`

	// DownloadDir receives copied files.
	// Default: ~/Desktop
	DownloadDir string `yaml:"download_dir"`

	Resolution ResolutionConfig `yaml:"resolution"`
}

// ResolutionConfig is a display size. Zero means probe the display.
type ResolutionConfig struct {
	Width  int32 `yaml:"width"`
	Height int32 `yaml:"height"`
}

// Screen converts to the screen package's type.
func (r ResolutionConfig) Screen() screen.Resolution {
	return screen.Resolution{Width: r.Width, Height: r.Height}
}

func (r ResolutionConfig) validate(field string) error {
	switch {
	case r.Width == 0 && r.Height == 0:
		return nil
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("%s must have both width and height positive, or both zero (got %dx%d)", field, r.Width, r.Height)
	}
	return nil
}

// LogConfig picks the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// JSON selects the JSON handler instead of text.
	JSON bool `yaml:"json"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Default returns the configuration used before a file or flags are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: fmt.Sprintf(":%d", DefaultPort),
			Grab:   true,
			Outbox: "~/.netkvm/outbox",
		},
		Client: ClientConfig{
			Side:        "right",
			DownloadDir: "~/Desktop",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and expands paths. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandPaths replaces a leading "~" in path fields with the home directory.
// Flags applied after Load should call it again.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Server.Outbox, &c.Client.DownloadDir} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ExpandHome expands "~" and "~/..." using os.UserHomeDir. Other forms,
// including "~user", are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// Validate checks the settings shared by both roles.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.Outbox == "" {
		errs = append(errs, errors.New("server.outbox is required"))
	}
	if err := c.Server.Resolution.validate("server.resolution"); err != nil {
		errs = append(errs, err)
	}

	if _, err := protocol.ParseSide(c.Client.Side); err != nil {
		errs = append(errs, fmt.Errorf("client.side must be left or right (got %q)", c.Client.Side))
	}
	if c.Client.DownloadDir == "" {
		errs = append(errs, errors.New("client.download_dir is required"))
	}
	if err := c.Client.Resolution.validate("client.resolution"); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}

	return errors.Join(errs...)
}
