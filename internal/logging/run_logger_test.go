package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLogger_WritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, err := StartRunLogging("abc123", Options{Dir: dir, Console: &console})
	require.NoError(t, err)
	assert.Same(t, logger, GetCurrentLogger())
	assert.True(t, strings.HasPrefix(filepath.Base(logger.Path()), "run_abc123_"))

	logger.LogSection("CREATE CHAT")
	logger.Log("Created chat %s", "chat-1")
	logger.LogPayload("REQUEST BODY", []byte(`{"chat":{}}`))
	logger.LogError("fetch", errors.New("boom"))
	log.Info().Msg("global logger shares the sinks")
	logger.Close()

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "CHATSYNC RUN LOG")
	assert.Contains(t, text, "= CREATE CHAT")
	assert.Contains(t, text, "Created chat chat-1")
	assert.Contains(t, text, `{"chat":{}}`)
	assert.Contains(t, text, "boom")
	assert.Contains(t, text, "global logger shares the sinks")
	assert.Contains(t, text, "Run logging completed")

	assert.Contains(t, console.String(), "Created chat chat-1")
	assert.NotContains(t, console.String(), `{"chat":{}}`)
}

func TestRunLogger_NilSafe(t *testing.T) {
	var logger *RunLogger
	assert.NotPanics(t, func() {
		logger.Log("ignored %d", 1)
		logger.LogSection("ignored")
		logger.LogPayload("ignored", nil)
		logger.LogError("ignored", errors.New("x"))
		logger.Close()
	})
	assert.Empty(t, logger.Path())
}

func TestRunLogger_StartClosesPrevious(t *testing.T) {
	dir := t.TempDir()
	first, err := StartRunLogging("one", Options{Dir: dir, Quiet: true})
	require.NoError(t, err)
	second, err := StartRunLogging("two", Options{Dir: dir, Quiet: true})
	require.NoError(t, err)
	defer second.Close()

	data, err := os.ReadFile(first.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run logging completed")
	assert.Same(t, second, GetCurrentLogger())
}
