package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)
	require.NotNil(t, logger)

	logger.Info("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestNewLevels(t *testing.T) {
	testCases := []struct {
		level       string
		expectDebug bool
		expectInfo  bool
		expectWarn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"warning", false, false, true},
		{"error", false, false, false},
		{"DEBUG", true, true, true},
		{"bogus", false, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			out := buf.String()
			assert.Equal(t, tc.expectDebug, bytes.Contains([]byte(out), []byte("debug message")))
			assert.Equal(t, tc.expectInfo, bytes.Contains([]byte(out), []byte("info message")))
			assert.Equal(t, tc.expectWarn, bytes.Contains([]byte(out), []byte("warn message")))
			assert.Contains(t, out, "error message")
		})
	}
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", buf)

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Debug("from context")
	assert.Contains(t, buf.String(), "from context")

	assert.Equal(t, logging.Default(), logging.From(context.Background()))
}

func TestSetDefault(t *testing.T) {
	orig := logging.Default()
	t.Cleanup(func() { logging.SetDefault(orig) })

	buf := &bytes.Buffer{}
	logging.SetDefault(logging.New("info", buf))
	logging.From(context.Background()).Info("default replaced")
	assert.Contains(t, buf.String(), "default replaced")
}

func TestWithScope(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logging.With(context.Background(), logging.New("info", buf))

	visitor, err := memory.ResolveScope("owner-7", "avatar-3", "token-xyz")
	require.NoError(t, err)

	ctx = logging.WithScope(ctx, visitor)
	ctx = logging.WithScope(ctx, visitor)
	logging.From(ctx).Info("stored batch")

	out := buf.String()
	assert.Contains(t, out, "stored batch")
	assert.Equal(t, 1, strings.Count(out, "token-xyz"), "scope attached once")
	assert.Contains(t, out, "avatar-3")

	buf.Reset()
	owner, err := memory.OwnerScope("owner-7", "avatar-9")
	require.NoError(t, err)
	logging.From(logging.WithScope(ctx, owner)).Info("deleted scope")
	assert.Contains(t, buf.String(), "avatar-9")
}
