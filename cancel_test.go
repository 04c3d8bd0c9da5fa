package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcbox/vaultfs/internal/vaultapp"
)

func TestTaskIsRunningReflectsRegistry(t *testing.T) {
	app := &vaultapp.App{}

	assert.False(t, taskIsRunning(app, "main-1"))

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.RegisterTask("main-1", cancel)
	t.Cleanup(func() { app.UnregisterTask("main-1") })

	assert.True(t, taskIsRunning(app, "main-1"))
	assert.False(t, taskIsRunning(app, "main-2"))
}

func TestTaskIsRunningAfterUnregister(t *testing.T) {
	app := &vaultapp.App{}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.RegisterTask("main-1", cancel)
	app.UnregisterTask("main-1")

	assert.False(t, taskIsRunning(app, "main-1"))
}
