package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	clipkg "github.com/urfave/cli"

	"github.com/ijonas/omikuji/build/static"
	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/keys"
	"github.com/ijonas/omikuji/internal/logger"
)

// Client is the command-line entry point. Every collaborator that touches
// the outside world sits behind an interface so command tests can run
// against fakes.
type Client struct {
	io.Writer
	Logger          *logger.Logger
	AppFactory      AppFactory
	Runner          Runner
	Prompter        Prompter
	KeyStoreFactory KeyStoreFactory
}

// NewProductionClient wires the real collaborators and installs the process
// logger. LOG_LEVEL picks the level, defaulting to info.
func NewProductionClient() *Client {
	lggr := logger.CreateProductionLogger(logger.LevelFromEnv(), false)
	logger.SetLogger(lggr)
	return &Client{
		Writer:          os.Stdout,
		Logger:          lggr,
		AppFactory:      OmikujiAppFactory{},
		Runner:          DaemonRunner{},
		Prompter:        NewTerminalPrompter(),
		KeyStoreFactory: StorageFactory{},
	}
}

func (cli *Client) errorOut(err error) error {
	if err != nil {
		return clipkg.NewExitError(err.Error(), 1)
	}
	return nil
}

// loadConfig resolves the config path from the global flag and the default
// search locations, then parses and validates it.
func (cli *Client) loadConfig(c *clipkg.Context) (*config.Config, error) {
	path, err := config.ResolvePath(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cli.Logger.Debugw("Configuration loaded", "path", path)
	return cfg, nil
}

// RunNode starts the daemon and blocks until it winds down.
func (cli *Client) RunNode(c *clipkg.Context) error {
	cfg, err := cli.loadConfig(c)
	if err != nil {
		return cli.errorOut(err)
	}

	lggr := cli.Logger
	lggr.Infow(fmt.Sprintf("Starting Omikuji %s at commit %s", static.Version, static.Sha),
		"version", static.Version, "commit", static.Sha, "instance", static.InstanceUUID)

	app, err := cli.AppFactory.NewApplication(lggr, cfg, c.GlobalString("private-key-env"))
	if err != nil {
		return cli.errorOut(errors.Wrap(err, "instantiating application"))
	}
	if err := app.Start(); err != nil {
		return cli.errorOut(errors.Wrap(err, "starting application"))
	}
	defer loggedStop(lggr, app)

	lggr.Infow(fmt.Sprintf("Omikuji booted in %s", time.Since(static.InitTime)),
		"networks", len(cfg.Networks), "datafeeds", len(cfg.Datafeeds), "scheduledTasks", len(cfg.ScheduledTasks))
	return cli.errorOut(cli.Runner.Run(app))
}

func loggedStop(lggr *logger.Logger, app Application) {
	lggr.WarnIf(app.StopIfStarted())
}

// AppFactory builds the Application RunNode starts.
type AppFactory interface {
	NewApplication(lggr *logger.Logger, cfg *config.Config, legacyKeyEnvVar string) (Application, error)
}

type OmikujiAppFactory struct{}

func (n OmikujiAppFactory) NewApplication(lggr *logger.Logger, cfg *config.Config, legacyKeyEnvVar string) (Application, error) {
	return NewApplication(lggr, cfg, legacyKeyEnvVar)
}

// Runner holds the run command open while the application serves.
type Runner interface {
	Run(Application) error
}

// DaemonRunner blocks until the application has shut down, either from a
// signal or a programmatic Stop.
type DaemonRunner struct{}

func (n DaemonRunner) Run(app Application) error {
	<-app.Done()
	return nil
}

// KeyStoreFactory builds the key storage backend the key commands operate
// on.
type KeyStoreFactory interface {
	NewKeyStore(lggr *logger.Logger, cfg config.KeyStorage, legacyEnvVar string) (keys.Storage, error)
}

type StorageFactory struct{}

func (s StorageFactory) NewKeyStore(lggr *logger.Logger, cfg config.KeyStorage, legacyEnvVar string) (keys.Storage, error) {
	return keys.NewStorage(lggr, cfg, legacyEnvVar)
}
