package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewWritesFile(t *testing.T) {
	var (
		buf  bytes.Buffer
		path = filepath.Join(t.TempDir(), "oraserv.log")
	)

	logger, closer, err := New(&buf, "info", path)
	require.NoError(t, err)

	logger.Info("banned", slog.String("nick", "bob"))
	logger.Debug("hidden")
	closer()

	require.Contains(t, buf.String(), "banned")
	require.NotContains(t, buf.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "bob")
}
