package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Server   ServerConfig  `mapstructure:"server"`
	TTS      TTSConfig     `mapstructure:"tts"`
	Bus      BusConfig     `mapstructure:"bus"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Log      LogConfig     `mapstructure:"log"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	// ONNXDir holds the four graphs, tts.json and unicode_indexer.json.
	ONNXDir  string `mapstructure:"onnx_dir"`
	VoiceDir string `mapstructure:"voice_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type TTSConfig struct {
	Voice       string  `mapstructure:"voice"`
	Steps       int     `mapstructure:"steps"`
	Speed       float64 `mapstructure:"speed"`
	Silence     float64 `mapstructure:"silence"`
	MaxChunkLen int     `mapstructure:"max_chunk_len"`
}

type BusConfig struct {
	URL        string `mapstructure:"url"`
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ONNXDir:  "assets/onnx",
			VoiceDir: "assets/voice_styles",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxTextBytes:    4096,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		TTS: TTSConfig{
			Voice:       "M1",
			Steps:       5,
			Speed:       1.05,
			Silence:     0.3,
			MaxChunkLen: 300,
		},
		Bus: BusConfig{
			URL:        "nats://127.0.0.1:4222",
			Subject:    "supertonic.tts.request",
			QueueGroup: "supertonic",
			TimeoutMS:  2000,
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "supertonic-cache.db",
		},
		Log: LogConfig{
			File:       "",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-onnx-dir", defaults.Paths.ONNXDir, "Directory with ONNX graphs, tts.json and unicode_indexer.json")
	fs.String("paths-voice-dir", defaults.Paths.VoiceDir, "Directory with voice style JSON files")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent synthesis requests")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Max request text size in bytes")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("tts-voice", defaults.TTS.Voice, "Default voice name or style JSON path")
	fs.Int("tts-steps", defaults.TTS.Steps, "Denoising steps")
	fs.Float64("tts-speed", defaults.TTS.Speed, "Speech speed factor")
	fs.Float64("tts-silence", defaults.TTS.Silence, "Silence between chunks in seconds")
	fs.Int("tts-max-chunk-len", defaults.TTS.MaxChunkLen, "Max characters per synthesis chunk")
	fs.String("bus-url", defaults.Bus.URL, "NATS server URL")
	fs.String("bus-subject", defaults.Bus.Subject, "NATS subject for synthesis requests")
	fs.Bool("cache-enabled", defaults.Cache.Enabled, "Cache synthesized audio in SQLite")
	fs.String("cache-path", defaults.Cache.Path, "SQLite cache database path")
	fs.String("log-file", defaults.Log.File, "Write logs to a rotating file instead of stderr")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SUPERTONIC")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "SUPERTONIC_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("supertonic")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.onnx_dir", c.Paths.ONNXDir)
	v.SetDefault("paths.voice_dir", c.Paths.VoiceDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.steps", c.TTS.Steps)
	v.SetDefault("tts.speed", c.TTS.Speed)
	v.SetDefault("tts.silence", c.TTS.Silence)
	v.SetDefault("tts.max_chunk_len", c.TTS.MaxChunkLen)
	v.SetDefault("bus.url", c.Bus.URL)
	v.SetDefault("bus.subject", c.Bus.Subject)
	v.SetDefault("bus.queue_group", c.Bus.QueueGroup)
	v.SetDefault("bus.timeout_ms", c.Bus.TimeoutMS)
	v.SetDefault("cache.enabled", c.Cache.Enabled)
	v.SetDefault("cache.path", c.Cache.Path)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
	v.SetDefault("log.max_age_days", c.Log.MaxAgeDays)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.onnx_dir", "paths-onnx-dir")
	v.RegisterAlias("paths.voice_dir", "paths-voice-dir")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("runtime.ort_api_version", "runtime-ort-api-version")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.workers", "workers")
	v.RegisterAlias("server.max_text_bytes", "max-text-bytes")
	v.RegisterAlias("server.request_timeout", "request-timeout")
	v.RegisterAlias("server.shutdown_timeout", "shutdown-timeout")
	v.RegisterAlias("tts.voice", "tts-voice")
	v.RegisterAlias("tts.steps", "tts-steps")
	v.RegisterAlias("tts.speed", "tts-speed")
	v.RegisterAlias("tts.silence", "tts-silence")
	v.RegisterAlias("tts.max_chunk_len", "tts-max-chunk-len")
	v.RegisterAlias("bus.url", "bus-url")
	v.RegisterAlias("bus.subject", "bus-subject")
	v.RegisterAlias("cache.enabled", "cache-enabled")
	v.RegisterAlias("cache.path", "cache-path")
	v.RegisterAlias("log.file", "log-file")
	v.RegisterAlias("log_level", "log-level")
}
