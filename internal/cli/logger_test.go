package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/logging"
)

func TestSelectLevel(t *testing.T) {
	tests := []struct {
		name           string
		verbose, quiet bool
		want           zerolog.Level
	}{
		{"default", false, false, zerolog.InfoLevel},
		{"verbose", true, false, zerolog.DebugLevel},
		{"quiet", false, true, zerolog.WarnLevel},
		{"verbose wins", true, true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectLevel(tt.verbose, tt.quiet))
		})
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, false, true, "")
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_FileIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "almctl.log")

	logger, closer, err := newLogger(&buf, true, false, path)
	require.NoError(t, err)

	logger.Debug().Str("header", "Bearer abcdefghijklmnopqrstuvwxyz").Msg("calling server")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "calling server")
	assert.Contains(t, string(data), logging.RedactedValue)
	assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")

	assert.Contains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz", "console output is not filtered")
}
