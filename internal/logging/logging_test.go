package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/lazypower/recall/internal/logging"
	"github.com/m-mizutani/gt"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)
	gt.V(t, logger).NotNil()

	logger.Info("memory stored")
	gt.S(t, buf.String()).Contains("memory stored")
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tt.level, buf)
			logger.Debug("debug message")
			logger.Warn("warn message")

			if tt.wantDebug {
				gt.S(t, buf.String()).Contains("debug message")
			} else {
				gt.S(t, buf.String()).NotContains("debug message")
			}
			if tt.wantWarn {
				gt.S(t, buf.String()).Contains("warn message")
			} else {
				gt.S(t, buf.String()).NotContains("warn message")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, ok := logging.ParseLevel("WARNING")
	gt.True(t, ok)
	gt.Equal(t, lvl, slog.LevelWarn)

	lvl, ok = logging.ParseLevel("loud")
	gt.True(t, !ok)
	gt.Equal(t, lvl, slog.LevelInfo)
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", buf)

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("from context")
	gt.S(t, buf.String()).Contains("from context")

	gt.Equal(t, logging.From(context.Background()), logging.Default())
}
