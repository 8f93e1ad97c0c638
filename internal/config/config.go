package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/utils"
	"github.com/spf13/viper"
)

const (
	EnvPrefix            = "BUCKETSYNC"
	VaultNamePlaceholder = "%VAULT_NAME%"

	DirectionLocal  = "local"
	DirectionRemote = "remote"

	// S3 caps ListObjectsV2 pages at 1000 keys
	maxPageSize = 1000
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".bucketsync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "bucketsync.log")
	DefaultVaultDir    = filepath.Join(home, "Vault")
)

var ErrConfigInvalid = errors.New("invalid config")

// ByteSize accepts either a plain number of bytes or a human readable size like "500MiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type Config struct {
	VaultDir         string `mapstructure:"vault_dir"`
	BucketPathPrefix string `mapstructure:"bucket_path_prefix"`

	Bucket blob.S3Config `mapstructure:",squash"`

	LocalFileProtection bool   `mapstructure:"local_file_protection"`
	SyncDirection       string `mapstructure:"sync_direction"`

	EnableAutoSync   bool          `mapstructure:"enable_auto_sync"`
	AutoSyncDebounce time.Duration `mapstructure:"auto_sync_debounce"`
	EnableAutoPull   bool          `mapstructure:"enable_auto_pull"`
	AutoPullInterval time.Duration `mapstructure:"auto_pull_interval"`

	PageSize           int      `mapstructure:"page_size"`
	MaxPages           int      `mapstructure:"max_pages"`
	MaxFingerprintSize ByteSize `mapstructure:"max_fingerprint_size"`
	MaxUploadSize      ByteSize `mapstructure:"max_upload_size"`
	BatchSize          int      `mapstructure:"batch_size"`

	Path string `mapstructure:"-"`
}

// SetDefaults registers every key with its default so that env overrides
// are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("vault_dir", DefaultVaultDir)
	v.SetDefault("bucket_path_prefix", "/"+VaultNamePlaceholder+"/")
	v.SetDefault("bucket_name", "")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("profile", blob.DefaultProfile)
	v.SetDefault("access_key", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("bucket_endpoint", "")
	v.SetDefault("local_file_protection", true)
	v.SetDefault("sync_direction", DirectionLocal)
	v.SetDefault("enable_auto_sync", false)
	v.SetDefault("auto_sync_debounce", "2s")
	v.SetDefault("enable_auto_pull", false)
	v.SetDefault("auto_pull_interval", "5m")
	v.SetDefault("page_size", maxPageSize)
	v.SetDefault("max_pages", 10)
	v.SetDefault("max_fingerprint_size", "500MiB")
	v.SetDefault("max_upload_size", "1GiB")
	v.SetDefault("batch_size", 10)
}

// Load decodes v into a Config, normalises it and validates it.
func Load(ctx context.Context, v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToByteSizeHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Bucket.ValidateProfile(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return &cfg, nil
}

// Validate normalises paths and the key prefix and rejects unusable values.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	vaultDir, err := utils.ResolvePath(c.VaultDir)
	if err != nil {
		return fmt.Errorf("vault_dir: %w", err)
	}
	c.VaultDir = vaultDir
	c.BucketPathPrefix = NormalizePrefix(c.BucketPathPrefix, filepath.Base(c.VaultDir))

	if err := c.Bucket.Validate(); err != nil {
		return err
	}

	switch c.SyncDirection {
	case DirectionLocal, DirectionRemote:
	default:
		return fmt.Errorf("sync_direction must be %q or %q, got %q", DirectionLocal, DirectionRemote, c.SyncDirection)
	}

	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", maxPageSize)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MaxFingerprintSize == 0 || c.MaxUploadSize == 0 {
		return fmt.Errorf("max_fingerprint_size and max_upload_size must be positive")
	}
	if c.EnableAutoSync && c.AutoSyncDebounce <= 0 {
		return fmt.Errorf("auto_sync_debounce must be positive")
	}
	if c.EnableAutoPull && c.AutoPullInterval <= 0 {
		return fmt.Errorf("auto_pull_interval must be positive")
	}
	return nil
}

// NormalizePrefix turns the configured bucket path prefix into an object key prefix:
// %VAULT_NAME% is substituted, the leading slash dropped and a trailing slash added.
// An empty or "/" prefix maps to the bucket root.
func NormalizePrefix(prefix, vaultName string) string {
	prefix = strings.ReplaceAll(prefix, VaultNamePlaceholder, vaultName)
	prefix = strings.TrimLeft(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func stringToByteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}
