package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	req := require.New(t)

	logger, err := New("debug", true)
	req.NoError(err)
	req.True(logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New(" warn ", false)
	req.NoError(err)
	req.False(logger.Core().Enabled(zapcore.InfoLevel))
	req.True(logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("chatty", false)
	require.Error(t, err)
}
