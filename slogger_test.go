// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultSLogger returns a logger that discards messages without panicking.
func TestDefaultSLogger(t *testing.T) {
	logger := DefaultSLogger()
	require.NotNil(t, logger)

	// Both levels should be safe to call with arbitrary args
	logger.Debug("debugMessage", slog.String("key", "value"))
	logger.Info("infoMessage", slog.Int("count", 42))
}

// A *slog.Logger satisfies the SLogger interface.
func TestSLoggerCompatibility(t *testing.T) {
	logger, records := newCapturingLogger()

	var slogger SLogger = logger
	slogger.Info("testEvent", slog.String("key", "value"))

	require.Len(t, *records, 1)
	assert.Equal(t, "testEvent", (*records)[0].Message)
}
