package cli

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clipkg "github.com/urfave/cli"

	"github.com/ijonas/omikuji/internal/logger"
)

func TestRunNode_StartsAndStops(t *testing.T) {
	app := newFakeApplication()
	runner := &fakeRunner{}
	client := &Client{
		Logger:     logger.CreateTestLogger(),
		AppFactory: fakeAppFactory{app: app},
		Runner:     runner,
	}

	c := newContext(t, "--config="+writeConfig(t, testConfigYAML))
	require.NoError(t, client.RunNode(c))

	assert.True(t, app.started)
	assert.True(t, runner.ran)
	assert.True(t, app.stopped, "RunNode stops the application on the way out")
	assert.Equal(t, "OMIKUJI_PRIVATE_KEY", app.legacy)
	require.NotNil(t, app.cfg)
	assert.Len(t, app.cfg.Networks, 2)
}

func TestRunNode_ConfigFileMissing(t *testing.T) {
	client := &Client{Logger: logger.CreateTestLogger()}

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	err := client.RunNode(newContext(t, "--config="+missing))
	require.Error(t, err)

	exitErr, ok := err.(clipkg.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func TestRunNode_FactoryError(t *testing.T) {
	client := &Client{
		Logger:     logger.CreateTestLogger(),
		AppFactory: fakeAppFactory{err: errors.New("no keys available")},
	}

	err := client.RunNode(newContext(t, "--config="+writeConfig(t, testConfigYAML)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instantiating application")
}

func TestRunNode_StartFailureDoesNotStop(t *testing.T) {
	app := newFakeApplication()
	app.startErr = errors.New("port in use")
	client := &Client{
		Logger:     logger.CreateTestLogger(),
		AppFactory: fakeAppFactory{app: app},
		Runner:     &fakeRunner{},
	}

	err := client.RunNode(newContext(t, "--config="+writeConfig(t, testConfigYAML)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting application")
	assert.False(t, app.stopped)
}

func TestRunNode_RunnerErrorPropagates(t *testing.T) {
	app := newFakeApplication()
	client := &Client{
		Logger:     logger.CreateTestLogger(),
		AppFactory: fakeAppFactory{app: app},
		Runner:     &fakeRunner{runErr: errors.New("wait interrupted")},
	}

	err := client.RunNode(newContext(t, "--config="+writeConfig(t, testConfigYAML)))
	require.Error(t, err)

	exitErr, ok := err.(clipkg.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func TestDaemonRunner_ReturnsOnceStopped(t *testing.T) {
	app := newFakeApplication()
	app.started = true
	require.NoError(t, app.Stop())

	require.NoError(t, DaemonRunner{}.Run(app))
}
