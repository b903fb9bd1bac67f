package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syslogPriority mirrors the handful of RFC 5424 facility.severity prefixes
// a syslog sink would assign per zap level, since this daemon writes
// syslog-style lines to stderr rather than opening a real /dev/log socket
// (spec AMBIENT STACK "Logging": "-s only changes the encoder").
var syslogPriority = map[zapcore.Level]string{
	zapcore.DebugLevel:  "<7>",
	zapcore.InfoLevel:   "<6>",
	zapcore.WarnLevel:   "<4>",
	zapcore.ErrorLevel:  "<3>",
	zapcore.DPanicLevel: "<2>",
	zapcore.PanicLevel:  "<2>",
	zapcore.FatalLevel:  "<2>",
}

func syslogLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	prefix, ok := syslogPriority[lvl]
	if !ok {
		prefix = "<6>"
	}
	enc.AppendString(prefix + lvl.CapitalString())
}

// BuildLogger returns the daemon's logger, following the `buildLogger`
// convention of `edirooss-zmux-server`'s cmd binaries: a zap.DevelopmentConfig
// with caller/stacktrace noise stripped, switched to a syslog-prefixed
// encoder under cfg.Syslog and to Debug under cfg.Verbose.
func BuildLogger(cfg Config) *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true

	if cfg.Syslog {
		logConfig.EncoderConfig.EncodeLevel = syslogLevelEncoder
	} else {
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Verbose {
		logConfig.Level.SetLevel(zap.DebugLevel)
	} else {
		logConfig.Level.SetLevel(zap.InfoLevel)
	}

	return zap.Must(logConfig.Build())
}
