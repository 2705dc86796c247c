package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/efm6988/ntfs-forensic-recovery/internal/device"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// EnvPrefix is prepended to every environment override, e.g.
// NTFS_RECOVER_CARVING_MAX_SIZE.
const EnvPrefix = "NTFS_RECOVER"

// Config holds the settings of a recovery run.
type Config struct {
	Destination string                `json:"destination" yaml:"destination" mapstructure:"destination"`
	Recover     types.RecoveryOptions `json:"recover" yaml:"recover" mapstructure:"recover"`
	Carving     CarvingConfig         `json:"carving" yaml:"carving" mapstructure:"carving"`
	Reassembly  ReassemblyConfig      `json:"reassembly" yaml:"reassembly" mapstructure:"reassembly"`
	Device      device.Config         `json:"device" yaml:"device" mapstructure:"device"`
	Log         LogConfig             `json:"log" yaml:"log" mapstructure:"log"`
	Hash        bool                  `json:"hash" yaml:"hash" mapstructure:"hash"`
}

// CarvingConfig tunes the signature carver.
type CarvingConfig struct {
	MaxSize    int64    `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
	Signatures []string `json:"signatures" yaml:"signatures" mapstructure:"signatures"`

	// MaxExtractSize caps the decompressed bytes written per rebuilt archive.
	MaxExtractSize int64 `json:"max_extract_size" yaml:"max_extract_size" mapstructure:"max_extract_size"`
}

// ReassemblyConfig tunes entry reassembly.
type ReassemblyConfig struct {
	ChunkSize int `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"dest":           "destination",
	"entries":        "recover.recover_entries",
	"deleted":        "recover.recover_deleted",
	"carve":          "recover.enable_carving",
	"journal":        "recover.extract_journal",
	"rebuild-zip":    "recover.rebuild_archives",
	"max-carve-size": "carving.max_size",
	"max-extract":    "carving.max_extract_size",
	"signatures":     "carving.signatures",
	"chunk-size":     "reassembly.chunk_size",
	"hash":           "hash",
	"volume-offset":  "device.default_offset",
	"no-detect":      "device.auto_detect_volume",
	"no-mmap":        "device.use_mmap",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// invertedFlags are negative switches bound to positive keys.
var invertedFlags = map[string]bool{
	"no-detect": true,
	"no-mmap":   true,
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("destination", "")
	v.SetDefault("recover.recover_entries", true)
	v.SetDefault("recover.recover_deleted", false)
	v.SetDefault("recover.enable_carving", false)
	v.SetDefault("recover.extract_journal", false)
	v.SetDefault("recover.rebuild_archives", false)
	v.SetDefault("carving.max_size", types.MaxCarveSize)
	v.SetDefault("carving.signatures", []string{})
	v.SetDefault("carving.max_extract_size", types.MaxExtractSize)
	v.SetDefault("reassembly.chunk_size", types.ReassemblyChunkSize)
	v.SetDefault("device.auto_detect_volume", true)
	v.SetDefault("device.default_offset", 0)
	v.SetDefault("device.use_mmap", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("hash", false)
}

// Load reads configuration from, in increasing precedence: defaults, the
// config file (path, or ntfs-recover.yaml in the search paths), environment
// variables and explicitly set flags. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ntfs-recover")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.ntfs-recover")
		v.AddConfigPath("/etc/ntfs-recover")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if err := applyFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var config Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hooks); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyFlags overrides keys with flags the user actually set, so unset
// flag defaults never mask the config file.
func applyFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if invertedFlags[f.Name] {
			on, err := flags.GetBool(f.Name)
			if err != nil {
				errs = append(errs, err)
				return
			}
			v.Set(key, !on)
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// sizeUnits are the suffixes accepted by ParseByteSize, longest first.
var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"gb", 1 << 30}, {"mb", 1 << 20}, {"kb", 1 << 10},
	{"g", 1 << 30}, {"m", 1 << 20}, {"k", 1 << 10},
	{"b", 1},
}

// ParseByteSize parses "4096", "64k", "1MiB" or "50MB". Units are binary.
func ParseByteSize(s string) (int64, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(in, u.suffix) {
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			factor = u.factor
			break
		}
	}
	n, err := strconv.ParseInt(in, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if n > math.MaxInt64/factor || n < math.MinInt64/factor {
		return 0, fmt.Errorf("byte size %q overflows int64", s)
	}
	return n * factor, nil
}

// byteSizeHook lets integer settings be written as sizes in files and env.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int64:
			return ParseByteSize(data.(string))
		}
		return data, nil
	}
}

// Validate checks value ranges and signature names.
func (c *Config) Validate() error {
	if c.Carving.MaxSize <= 0 {
		return fmt.Errorf("carving.max_size must be positive, got %d", c.Carving.MaxSize)
	}
	if c.Carving.MaxExtractSize <= 0 {
		return fmt.Errorf("carving.max_extract_size must be positive, got %d", c.Carving.MaxExtractSize)
	}
	if c.Reassembly.ChunkSize <= 0 {
		return fmt.Errorf("reassembly.chunk_size must be positive, got %d", c.Reassembly.ChunkSize)
	}
	if c.Device.DefaultOffset < 0 {
		return fmt.Errorf("device.default_offset must not be negative, got %d", c.Device.DefaultOffset)
	}
	if _, err := types.SelectSignatures(c.Carving.Signatures); err != nil {
		return err
	}
	return nil
}

// SelectedSignatures resolves the configured carve table.
func (c *Config) SelectedSignatures() ([]types.Signature, error) {
	return types.SelectSignatures(c.Carving.Signatures)
}
