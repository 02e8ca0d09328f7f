package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/zzenonn/zplace/internal/config"
)

func TestInitLogger(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	tests := []struct {
		level string
		want  log.Level
	}{
		{"trace", log.TraceLevel},
		{"DEBUG", log.DebugLevel},
		{"info", log.InfoLevel},
		{"warning", log.WarnLevel},
		{"", log.ErrorLevel},
		{"verbose", log.ErrorLevel},
	}
	for _, tt := range tests {
		InitLogger(&config.Config{LogLevel: tt.level})
		assert.Equal(t, tt.want, log.GetLevel(), tt.level)
	}

	InitLogger(&config.Config{LogLevel: "info", LogFormat: "json"})
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	InitLogger(&config.Config{LogLevel: "info"})
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
}
