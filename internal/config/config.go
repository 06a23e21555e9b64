// Package config layers reposnap settings from defaults, a config file and
// REPOSNAP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
)

const (
	EnvPrefix      = "REPOSNAP"
	DirName        = ".reposnap"
	configName     = "config"
	configType     = "yaml"
	defaultRetries = 3
)

// Settings is the resolved configuration for one invocation.
type Settings struct {
	Bucket             string
	Preset             snapshot.Preset
	PresetSet          bool
	Store              store.Config
	InspectConcurrency int
	VerifyChecksum     bool
	// Manifest is the workspace manifest file name looked up in the working directory.
	Manifest string
	// File is the config file that was read, if any.
	File string
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("bucket", "")
	v.SetDefault("preset", string(snapshot.DefaultPreset))
	v.SetDefault("store.kind", store.KindMinio)
	v.SetDefault("store.endpoint", "localhost:9000")
	v.SetDefault("store.access_key", "")
	v.SetDefault("store.secret_key", "")
	v.SetDefault("store.use_ssl", false)
	v.SetDefault("store.region", "")
	v.SetDefault("store.dir", filepath.Join(home, DirName, "store"))
	v.SetDefault("store.max_retries", defaultRetries)
	v.SetDefault("inspect.concurrency", 8)
	v.SetDefault("restore.verify_checksum", true)
	v.SetDefault("workspace.manifest", ManifestFileName)
}

// Load reads cfgFile, or $HOME/.reposnap/config.yaml when cfgFile is empty.
// A missing default config file is not an error; a missing explicit one is.
func Load(cfgFile string) (*Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, home)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, DirName))
		v.SetConfigName(configName)
		v.SetConfigType(configType)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	preset, err := snapshot.ParsePreset(v.GetString("preset"))
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	concurrency := v.GetInt("inspect.concurrency")
	if concurrency < 1 {
		return nil, fmt.Errorf("invalid config: inspect.concurrency must be positive, got %d", concurrency)
	}

	return &Settings{
		Bucket: v.GetString("bucket"),
		Preset: preset,
		Store: store.Config{
			Kind:       v.GetString("store.kind"),
			Endpoint:   v.GetString("store.endpoint"),
			AccessKey:  v.GetString("store.access_key"),
			SecretKey:  v.GetString("store.secret_key"),
			UseSSL:     v.GetBool("store.use_ssl"),
			Region:     v.GetString("store.region"),
			Dir:        v.GetString("store.dir"),
			MaxRetries: v.GetInt("store.max_retries"),
		},
		PresetSet:          v.InConfig("preset") || os.Getenv(EnvPrefix+"_PRESET") != "",
		InspectConcurrency: concurrency,
		VerifyChecksum:     v.GetBool("restore.verify_checksum"),
		Manifest:           v.GetString("workspace.manifest"),
		File:               v.ConfigFileUsed(),
	}, nil
}
