package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
)

// Config carries the engine settings. Zero values are usable for tests;
// LoadConfig fills it from the repository and user config files.
type Config struct {
	// UserName and UserEmail stamp author/committer signatures.
	UserName  string
	UserEmail string

	// StrictDrivers promotes merge-driver failures to operation errors.
	StrictDrivers bool

	// MaxFileSize caps what snapshots track; 0 means unlimited.
	MaxFileSize int64

	// IndexPath enables the SQLite revision index when non-empty.
	IndexPath string

	// Workspace selects which working copy this handle drives; empty
	// means the default workspace.
	Workspace string

	// LogFile is where the CLI points its rotating log sink.
	LogFile string

	// Clock supplies timestamps; injectable for deterministic tests.
	Clock func() time.Time

	// NewID mints change and conflict IDs; injectable for tests.
	NewID func() (string, error)
}

func (c *Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Config) newID() (string, error) {
	if c.NewID != nil {
		return c.NewID()
	}
	return ids.NewChangeID()
}

// user returns the op-log user string.
func (c *Config) user() string {
	if c.UserEmail != "" {
		return c.UserEmail
	}
	return c.UserName
}

// signature builds a signature stamped with the current clock.
func (c *Config) signature() graph.Signature {
	return graph.Signature{
		Name:      c.UserName,
		Email:     c.UserEmail,
		Timestamp: c.now().UnixMilli(),
	}
}

// LoadConfig reads configuration for a repository from the first
// config.toml found, looking in the repository's .jj/ before the
// user-level ~/.config/jjkit/; the two files are not merged. JJKIT_*
// environment variables override file values, with the dots and dashes
// of a key written as underscores (JJKIT_USER_EMAIL for user.email).
func LoadConfig(repoPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if repoPath != "" {
		v.AddConfigPath(filepath.Join(repoPath, ".jj"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "jjkit"))
	}
	v.SetEnvPrefix("JJKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")
	v.SetDefault("merge.drivers.strict", false)
	v.SetDefault("snapshot.max-file-size", int64(0))
	v.SetDefault("index.enabled", true)
	v.SetDefault("log.file", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		UserName:      v.GetString("user.name"),
		UserEmail:     v.GetString("user.email"),
		StrictDrivers: v.GetBool("merge.drivers.strict"),
		MaxFileSize:   v.GetInt64("snapshot.max-file-size"),
		LogFile:       v.GetString("log.file"),
	}
	if v.GetBool("index.enabled") && repoPath != "" {
		cfg.IndexPath = filepath.Join(repoPath, ".jj", "index.db")
	}
	return cfg, nil
}
