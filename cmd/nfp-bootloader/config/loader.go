package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"github.com/nfps-dev/nfp-bootloader/internal/securefile"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

// EnvPrefix is prepended to every environment override, e.g. NFP_TOKEN_TOKEN_ID.
const EnvPrefix = "NFP"

type TokenSettings struct {
	ChainID  string `mapstructure:"chain_id"`
	Contract string `mapstructure:"contract"`
	CodeHash string `mapstructure:"code_hash"`
	TokenID  string `mapstructure:"token_id"`
}

type NetworkSettings struct {
	HRP   string   `mapstructure:"hrp"`
	LCDs  []string `mapstructure:"lcds"`
	Comms []string `mapstructure:"comms"`
}

type CacheSettings struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type PackageSettings struct {
	Main   string `mapstructure:"main"`
	Tag    string `mapstructure:"tag"`
	DevDir string `mapstructure:"dev_dir"`
}

type BootSettings struct {
	Dev      bool `mapstructure:"dev"`
	Autoboot bool `mapstructure:"autoboot"`
}

type ServerSettings struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	Token    TokenSettings   `mapstructure:"token"`
	Network  NetworkSettings `mapstructure:"network"`
	Cache    CacheSettings   `mapstructure:"cache"`
	Packages PackageSettings `mapstructure:"packages"`
	Boot     BootSettings    `mapstructure:"boot"`
	Server   ServerSettings  `mapstructure:"server"`

	// File is the on-disk config that was merged over the defaults, if any.
	File string `mapstructure:"-"`
}

// Load reads the embedded defaults, merges the first config.yaml found in paths and applies
// NFP_* environment overrides. An explicit path must exist.
func Load(explicit string) (*Config, error) {
	paths, err := searchPaths()
	if err != nil {
		return nil, err
	}
	return load(explicit, paths)
}

func searchPaths() ([]string, error) {
	candidates, err := securefile.PathCandidates(constants.AppName, constants.ConfigFile)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		dirs = append(dirs, filepath.Dir(c))
	}
	return append(dirs, "."), nil
}

func load(explicit string, paths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, fmt.Errorf("read embedded config: %w", err)
	}

	file := explicit
	if file == "" {
		for _, dir := range paths {
			p := filepath.Join(dir, constants.ConfigFile)
			if _, err := os.Stat(p); err == nil {
				file = p
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Token.ChainID = strings.TrimSpace(c.Token.ChainID)
	c.Token.Contract = strings.TrimSpace(c.Token.Contract)
	c.Token.TokenID = strings.TrimSpace(c.Token.TokenID)
	c.Network.LCDs = trimAll(c.Network.LCDs)
	c.Network.Comms = trimAll(c.Network.Comms)
	if c.Network.HRP == "" {
		c.Network.HRP = constants.DefaultHRP
	}
	if c.Packages.Main == "" {
		c.Packages.Main = constants.DefaultMainPkg
	}
	if c.Packages.Tag == "" {
		c.Packages.Tag = constants.DefaultMainTag
	}
	if c.Boot.Dev {
		c.Boot.Autoboot = true
	}
}

// env vars arrive as a single space separated string
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, f := range strings.Fields(s) {
			out = append(out, strings.TrimSuffix(f, ","))
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Token.ChainID == "" {
		return fmt.Errorf("token.chain_id is required")
	}
	if c.Token.Contract == "" {
		return fmt.Errorf("token.contract is required")
	}
	if len(c.Network.LCDs) == 0 {
		return fmt.Errorf("network.lcds must list at least one endpoint")
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case "", cache.BackendSQLite, cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache.backend %q (allowed: sqlite, memory, redis)", c.Cache.Backend)
	}
	return nil
}

// Location is the configured token location before any page overrides.
func (c *Config) Location() tokenloc.Location {
	return tokenloc.Location{
		ChainID:  c.Token.ChainID,
		Contract: c.Token.Contract,
		TokenID:  c.Token.TokenID,
	}
}

// CacheConfig resolves the sqlite path next to the profile when none is configured.
func (c *Config) CacheConfig() (cache.Config, error) {
	out := cache.Config{
		Backend:     c.Cache.Backend,
		Path:        c.Cache.Path,
		RedisAddr:   c.Cache.RedisAddr,
		RedisPrefix: c.Cache.RedisPrefix,
	}
	backend := strings.ToLower(strings.TrimSpace(out.Backend))
	if out.Path != "" || (backend != "" && backend != cache.BackendSQLite) {
		return out, nil
	}
	candidates, err := securefile.PathCandidates(constants.AppName, constants.CacheFile)
	if err != nil {
		return out, err
	}
	out.Path = candidates[0]
	if err := os.MkdirAll(filepath.Dir(out.Path), constants.DirectoryPerm); err != nil {
		return out, fmt.Errorf("create profile dir: %w", err)
	}
	return out, nil
}

// BackupPath is the default destination for encrypted cache backups.
func (c *Config) BackupPath() (string, error) {
	candidates, err := securefile.PathCandidates(constants.AppName, constants.BackupFile)
	if err != nil {
		return "", err
	}
	return candidates[0], nil
}
