package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GetLogger()
	SetLogger(newLevelledLogger(btclog.NewBackend(&buf), verbose))
	t.Cleanup(func() { SetLogger(prev) })
	return &buf
}

func TestLogLevels(t *testing.T) {
	buf := captureLogger(t, false)

	LogDebug("hidden %d", 1)
	LogInfo("shown %d", 2)
	LogWarn("careful")
	LogError("broken")

	out := buf.String()
	require.NotContains(t, out, "hidden 1")
	require.Contains(t, out, "[INF] NODE: shown 2")
	require.Contains(t, out, "[WRN] NODE: careful")
	require.Contains(t, out, "[ERR] NODE: broken")
}

func TestSetVerbose(t *testing.T) {
	buf := captureLogger(t, false)
	defer SetVerbose(false)

	SetVerbose(true)
	require.True(t, GetVerbose())
	LogDebug("now visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestSilentLogger(t *testing.T) {
	InitLogger(true, true)
	require.Equal(t, btclog.Disabled, GetLogger())
	LogError("dropped")
}

func TestLogRotator(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, InitLogRotator(dir, "node.log", 1024, 2))
	defer InitLogger(false, true)
	defer CloseLogRotator()

	LogInfo("written to file")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "node.log"))
		return err == nil && strings.Contains(string(data), "written to file")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShorten(t *testing.T) {
	require.Equal(t, "abc", shorten("abc", 5))
	long := strings.Repeat("x", 50)
	got := shorten(long, 10)
	require.Len(t, got, 10)
	require.True(t, strings.HasSuffix(got, "..."))
}
