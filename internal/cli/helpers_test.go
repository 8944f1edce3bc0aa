package cli

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	clipkg "github.com/urfave/cli"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/keys"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/services"
	"github.com/ijonas/omikuji/internal/store"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testConfigYAML = `
networks:
  - name: base-sepolia
    rpc_url: https://sepolia.base.org
  - name: polygon
    rpc_url: https://polygon-rpc.example.com

datafeeds:
  - name: eth_usd
    networks: base-sepolia
    contract_address: "0x1D9b291e76a07e2469CcC4ee614556978fb86f52"
    read_contract_config: true
    feed_url: https://api.example.com/price
    feed_json_path: RAW.ETH.USD.PRICE
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return path
}

// newContext builds a cli context the way commands see one, with the global
// flags registered on the same set.
func newContext(t *testing.T, args ...string) *clipkg.Context {
	t.Helper()
	set := flag.NewFlagSet("test", 0)
	set.String("config", "", "")
	set.String("private-key-env", "OMIKUJI_PRIVATE_KEY", "")
	set.String("network", "", "")
	set.String("key", "", "")
	set.String("file", "", "")
	set.String("service", "", "")
	require.NoError(t, set.Parse(args))
	return clipkg.NewContext(nil, set, nil)
}

func newTestClient(t *testing.T) (*Client, *bytes.Buffer, *memoryKeyStoreFactory, *scriptedPrompter) {
	t.Helper()
	buf := &bytes.Buffer{}
	factory := &memoryKeyStoreFactory{store: newMemoryKeyStore()}
	prompter := &scriptedPrompter{terminal: true}
	client := &Client{
		Writer:          buf,
		Logger:          logger.CreateTestLogger(),
		Prompter:        prompter,
		KeyStoreFactory: factory,
	}
	return client, buf, factory, prompter
}

type scriptedPrompter struct {
	answers   []string
	passwords []string
	terminal  bool
}

func (p *scriptedPrompter) Prompt(string) string {
	if len(p.answers) == 0 {
		return ""
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer
}

func (p *scriptedPrompter) PasswordPrompt(string) string {
	if len(p.passwords) == 0 {
		return ""
	}
	password := p.passwords[0]
	p.passwords = p.passwords[1:]
	return password
}

func (p *scriptedPrompter) IsTerminal() bool { return p.terminal }

type memoryKeyStore struct {
	keys     map[string]string
	backend  string
	storeErr error
}

func newMemoryKeyStore() *memoryKeyStore {
	return &memoryKeyStore{keys: map[string]string{}, backend: "memory"}
}

func (m *memoryKeyStore) GetKey(_ context.Context, network string) (string, error) {
	key, ok := m.keys[network]
	if !ok {
		return "", errors.Errorf("no key stored for network %q", network)
	}
	return key, nil
}

func (m *memoryKeyStore) StoreKey(_ context.Context, network, key string) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.keys[network] = key
	return nil
}

func (m *memoryKeyStore) RemoveKey(_ context.Context, network string) error {
	if _, ok := m.keys[network]; !ok {
		return errors.Errorf("no key stored for network %q", network)
	}
	delete(m.keys, network)
	return nil
}

func (m *memoryKeyStore) ListKeys(context.Context) ([]string, error) {
	names := make([]string, 0, len(m.keys))
	for name := range m.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryKeyStore) Backend() string { return m.backend }

type memoryKeyStoreFactory struct {
	store     *memoryKeyStore
	gotCfg    config.KeyStorage
	gotLegacy string
}

func (f *memoryKeyStoreFactory) NewKeyStore(_ *logger.Logger, cfg config.KeyStorage, legacyEnvVar string) (keys.Storage, error) {
	f.gotCfg = cfg
	f.gotLegacy = legacyEnvVar
	return f.store, nil
}

type fakeApplication struct {
	startErr error
	started  bool
	stopped  bool
	legacy   string
	cfg      *config.Config
	done     chan struct{}
}

func newFakeApplication() *fakeApplication {
	return &fakeApplication{done: make(chan struct{})}
}

func (a *fakeApplication) Start() error {
	if a.startErr != nil {
		return a.startErr
	}
	a.started = true
	return nil
}

func (a *fakeApplication) Stop() error {
	if !a.stopped {
		a.stopped = true
		close(a.done)
	}
	return nil
}

func (a *fakeApplication) StopIfStarted() error {
	if a.started {
		return a.Stop()
	}
	return nil
}

func (a *fakeApplication) Done() <-chan struct{}              { return a.done }
func (a *fakeApplication) GetLogger() *logger.Logger          { return logger.CreateTestLogger() }
func (a *fakeApplication) GetConfig() *config.Config          { return a.cfg }
func (a *fakeApplication) GetStore() *store.Store             { return nil }
func (a *fakeApplication) GetHealthChecker() services.Checker { return nil }

type fakeAppFactory struct {
	app *fakeApplication
	err error
}

func (f fakeAppFactory) NewApplication(_ *logger.Logger, cfg *config.Config, legacyKeyEnvVar string) (Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.app.cfg = cfg
	f.app.legacy = legacyKeyEnvVar
	return f.app, nil
}

type fakeRunner struct {
	ran    bool
	runErr error
}

func (r *fakeRunner) Run(Application) error {
	r.ran = true
	return r.runErr
}
