package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/remoteblob/memblob"
	"github.com/arcbox/vaultfs/internal/vaultapp"
)

// newCLITestCommand builds a bare *cobra.Command carrying a CLIContext
// backed by an in-memory catalog and a memblob channel, the way
// PersistentPreRunE wires one up for a real invocation.
func newCLITestCommand(t *testing.T) *cobra.Command {
	t.Helper()

	store, err := catalog.Open(t.Context(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	channel := memblob.New()
	channelID, err := channel.EnsureChannel(t.Context(), "tester")
	require.NoError(t, err)

	cc := &CLIContext{
		App: &vaultapp.App{Catalog: store, Channel: channel, ChannelID: channelID},
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	return cmd
}
