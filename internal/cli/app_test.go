package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp_CommandTree(t *testing.T) {
	client, _, _, _ := newTestClient(t)
	app := NewApp(client)

	assert.NotNil(t, app.Action, "running with no command starts the daemon")
	require.Len(t, app.Commands, 2)
	assert.Equal(t, "run", app.Commands[0].Name)
	assert.Equal(t, "key", app.Commands[1].Name)

	var names []string
	for _, sub := range app.Commands[1].Subcommands {
		names = append(names, sub.Name)
	}
	assert.Equal(t, []string{"import", "export", "remove", "list", "migrate"}, names)
}

func TestApp_GlobalFlagsReachSubcommands(t *testing.T) {
	client, buf, _, _ := newTestClient(t)
	app := NewApp(client)
	cfgPath := writeConfig(t, testConfigYAML)

	err := app.Run([]string{"omikuji", "--config", cfgPath, "key", "list"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No keys stored")
}

func TestApp_KeyImportThroughApp(t *testing.T) {
	client, buf, factory, _ := newTestClient(t)
	app := NewApp(client)
	cfgPath := writeConfig(t, testConfigYAML)

	err := app.Run([]string{"omikuji", "-c", cfgPath, "key", "import", "-n", "base-sepolia", "-k", testKeyHex})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Imported key")
	assert.Len(t, factory.store.keys, 1)
}

func TestUsageErrorsExitWithCodeTwo(t *testing.T) {
	err := usageError(nil, assert.AnError, false)
	require.Error(t, err)

	exitErr, ok := err.(interface{ ExitCode() int })
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.ExitCode())
}
