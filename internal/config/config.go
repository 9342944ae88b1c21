// Package config loads the server's configuration from a TOML file.
// The only override applied on top of file values is the --port CLI
// flag (wired in cmd/server); environment variables are not read.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of server settings, per spec §6 and the
// ambient stack's logging/worker-pool additions.
type Config struct {
	Port                 int    `toml:"port"`
	DataDir              string `toml:"data_dir"`
	TmpDir               string `toml:"tmp_dir"`
	DBPath               string `toml:"db_path"`
	WorkerPoolSize       int    `toml:"worker_pool_size"`
	MaxMetadataBodyBytes int64  `toml:"max_metadata_body_bytes"`
	LogPath              string `toml:"log_path"`
	LogLevel             string `toml:"log_level"`
	UploadRatePerSecond  int    `toml:"upload_rate_per_second"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Port:                 8080,
		DataDir:              "./data/blobs",
		TmpDir:               "./data/tmp",
		DBPath:               "./data/hyperfs.db",
		WorkerPoolSize:       32,
		MaxMetadataBodyBytes: 13 * 1024 * 1024 / 2, // ~6.5MiB ceiling on non-upload request bodies (PROPFIND/MOVE/COPY payloads)
		LogPath:              "./data/log/hyperfs.log",
		LogLevel:             "info",
		UploadRatePerSecond:  20,
	}
}

// Read decodes a Config from r. Fields absent from r keep their
// Default values; a field present in r replaces its default, even with
// a zero value.
func Read(r io.Reader) (Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ReadFromFile loads configuration from path. A missing file is not
// an error: the caller gets defaults.
func ReadFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("open config file %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}
