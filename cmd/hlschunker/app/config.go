package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/streamrec/hlschunker/pkg/logging"
)

type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutS  int    `json:"timeoutS"`
	// DataDir holds one sub-directory per feed id.
	DataDir string `json:"datadir"`
	// Prefix is prepended to segment URIs in generated chunk playlists.
	Prefix string `json:"prefix"`
	// FullPath makes generated segment URIs absolute under /{id}/.
	FullPath bool `json:"fullpath"`
	// ChunkSizeS is the minimum chunk duration in seconds.
	ChunkSizeS        int    `json:"chunksize"`
	ChunkExtension    string `json:"chunk_extension"`
	ParallelDownloads int    `json:"parallel_downloads"`
	// RunForever keeps pulling feeds across stream ends and errors.
	RunForever            bool     `json:"runforever"`
	ChunkMetadataEndpoint string   `json:"chunk_metadata_endpoint"`
	ActiveFeeds           []string `json:"active_feeds"`
	// Feeds entries are either a source URL string or a mapping with
	// source_feed, an optional id, and arbitrary extra metadata.
	Feeds []any `json:"feeds"`
	// CertPath and KeyPath enable HTTPS when both are set.
	CertPath string `json:"certpath"`
	KeyPath  string `json:"keypath"`
	Version  bool   `json:"version"`
}

var DefaultConfig = ServerConfig{
	LogFormat:         "text",
	LogLevel:          "info",
	Host:              "0.0.0.0",
	Port:              6000,
	TimeoutS:          60,
	DataDir:           "./data",
	ChunkSizeS:        300,
	ChunkExtension:    "ts",
	ParallelDownloads: 4,
	RunForever:        true,
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables.
//
// DataDir is made absolute relative to cwd.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	// First set default values
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil) //nolint:errcheck

	f := pflag.NewFlagSet("hlschunker", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a YAML config file with feeds and metadata")
	f.String("host", k.String("host"), "host for the chunk serving HTTP server")
	f.Int("port", k.Int("port"), "port for the chunk serving HTTP server")
	f.String("datadir", k.String("datadir"), "data directory")
	f.String("prefix", k.String("prefix"), "prefix for segment URLs in generated playlists")
	f.Bool("fullpath", k.Bool("fullpath"), "use full path addressing for segment URLs")
	f.Int("chunksize", k.Int("chunksize"), "chunk size (seconds)")
	f.Int("parallel_downloads", k.Int("parallel_downloads"), "number of parallel downloads per feed")
	f.Bool("runforever", k.Bool("runforever"), "keep pulling feeds across stream ends and errors")
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file (for HTTPS)")
	f.String("keypath", k.String("keypath"), "path to TLS private key file (for HTTPS)")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Bool("version", false, "print version and exit")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	// Load the config file provided on the command line.
	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with command line parameters
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables
	k.Load(env.Provider("HLSCHUNKER_", ".", func(s string) string { //nolint:errcheck
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "HLSCHUNKER_")), "_", ".", -1)
	}), nil)

	// Make dataDir absolute in case it is not already
	dataDir := k.String("datadir")
	if dataDir != "" && !path.IsAbs(dataDir) {
		dataDir = path.Join(cwd, dataDir)
		k.Load(confmap.Provider(map[string]any{ //nolint:errcheck
			"datadir": dataDir,
		}, "."), nil)
	}

	// Unmarshal into cfg, matching keys on the json tags
	var cfg ServerConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}

	return &cfg, nil
}
