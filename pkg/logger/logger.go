package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "carecall"

// Log is the process logger. It is a no-op until Init runs so packages can log from tests.
var Log = zap.NewNop()

// Init replaces Log. Production writes JSON, anything else coloured console
// output. Unknown levels fall back to info. Every entry carries the service
// and environment.
func Init(level string, env string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Session lines arrive in bursts per call; sampling would drop teardown entries.
		config.Sampling = nil
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	config.Level = lvl
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     env,
	}

	built, err := config.Build()
	if err != nil {
		return err
	}

	Log = built
	return nil
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
