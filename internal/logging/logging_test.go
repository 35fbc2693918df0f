package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"info":    zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	l, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("nope", false)
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Component(zap.New(core), "repair").Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "repair", entries[0].ContextMap()["component"])

	// nil logger falls back to a no-op logger
	assert.NotPanics(t, func() { Component(nil, "x").Info("dropped") })
}
