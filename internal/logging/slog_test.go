package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TextLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "text")
	require.NoError(t, err)

	ctx := context.Background()
	log.Debug(ctx, "hidden")
	log.Info(ctx, "inf", "a", 1)
	log.Warn(ctx, "wrn", "b", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "msg=inf")
	assert.Contains(t, out, "a=1")
	assert.Contains(t, out, "level=WARN")
}

func TestNew_JSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	log.With("component", "autolock").Debug(context.Background(), "armed", "timeout", "5m0s")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"component":"autolock"`)
	assert.Contains(t, out, `"timeout":"5m0s"`)
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, Nop{}, OrNop(nil))

	var buf bytes.Buffer
	l, err := New(&buf, "info", "text")
	require.NoError(t, err)
	assert.Same(t, l, OrNop(l))
}
