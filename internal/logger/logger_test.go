package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug":   Debug,
		"INFO":    Info,
		"":        Info,
		"warning": Warn,
		" error ": Error,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(Info)
	l := New(core).With("account", 1)

	l.Debugf("dropped")
	l.Warnf("no price for %s", "XYZ")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "no price for XYZ", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["account"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.With("account", 1).Infof("tick %d", 1)
	assert.NoError(t, l.Sync())
}
