package clog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/clog"
)

func TestLevelsFilterBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer

	l := clog.New(clog.Options{Out: &buf, MinLevel: clog.LevelWarn})

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	require.NotContains(t, out, "debug 1")
	require.NotContains(t, out, "info 2")
	require.Contains(t, out, "warn 3")
	require.Contains(t, out, "error 4")
}

func TestNoColorsByDefault(t *testing.T) {
	var buf bytes.Buffer

	l := clog.New(clog.Options{Out: &buf})
	l.Infof("hello")

	require.False(t, strings.Contains(buf.String(), "\x1b["))
}

func TestColorsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer

	l := clog.New(clog.Options{Out: &buf, UseColors: true})
	l.Infof("hello")

	require.True(t, strings.Contains(buf.String(), "\x1b["))
}
