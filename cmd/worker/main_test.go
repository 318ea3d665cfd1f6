package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/app"
	_ "github.com/miazigoo/RepireCRM/internal/testing/guard"
)

func TestWorkerSkipsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
