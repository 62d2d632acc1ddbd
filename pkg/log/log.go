package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	Destination = "destination"
	Object      = "obj_name"
	Bucket      = "bucket"
	Version     = "obj_version"
	Entry       = "entry_id"
	TraceID     = "trace_id"
	httpPath    = "http_path"
	grpcMethod  = "grpc_method"
	httpMethod  = "http_method"
	httpQuery   = "http_query"
	flow        = "flow"
)

type Config struct {
	Json  bool   `yaml:"json"`
	Level string `yaml:"level"`
}

// Output is where loggers write. Tests swap it to capture log lines.
var Output io.Writer = os.Stdout

func GetLogger(cfg *Config, app, appID string) zerolog.Logger {
	logger := CreateLogger(cfg, app, appID)
	zerolog.DefaultContextLogger = &logger
	return logger
}

func CreateLogger(cfg *Config, app, appID string) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Json {
		logger = zerolog.New(Output)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        Output,
			TimeFormat: time.RFC3339,
		})
	}
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)
	l := logger.With().Caller().Timestamp()
	if appID != "" {
		l = l.Str("app_id", appID)
	}
	if app != "" {
		l = l.Str("app", app)
	}

	logger = l.Logger()
	return logger
}
