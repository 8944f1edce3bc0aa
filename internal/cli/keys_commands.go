package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	clipkg "github.com/urfave/cli"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/keys"
)

// keyStore builds the storage backend the key commands act on. --service
// forces the OS keyring under that service name; otherwise the backend comes
// from the config file.
func (cli *Client) keyStore(c *clipkg.Context) (keys.Storage, *config.Config, error) {
	cfg, err := cli.loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	ks := cfg.KeyStorage
	if service := c.String("service"); service != "" {
		ks.StorageType = "keyring"
		ks.Keyring.Service = service
	}
	storage, err := cli.KeyStoreFactory.NewKeyStore(cli.Logger, ks, c.GlobalString("private-key-env"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "building key storage")
	}
	return storage, cfg, nil
}

// ImportKey stores a private key for one network. The key comes from --key,
// --file, or a hidden prompt, and is validated before anything is written.
func (cli *Client) ImportKey(c *clipkg.Context) error {
	network := c.String("network")
	if network == "" {
		return cli.errorOut(errors.New("must pass --network"))
	}
	storage, _, err := cli.keyStore(c)
	if err != nil {
		return cli.errorOut(err)
	}

	raw, err := cli.readKey(c, network)
	if err != nil {
		return cli.errorOut(err)
	}
	if _, err := keys.ParsePrivateKey(raw); err != nil {
		return cli.errorOut(err)
	}

	ctx := context.Background()
	if err := storage.StoreKey(ctx, network, raw); err != nil {
		return cli.errorOut(errors.Wrapf(err, "storing key for network %q", network))
	}
	fmt.Fprintf(cli.Writer, "Imported key for network %q into the %s backend\n", network, storage.Backend())

	// Read the key back so a silently broken backend is caught now rather
	// than at submission time.
	if _, err := storage.GetKey(ctx, network); err != nil {
		fmt.Fprintf(cli.Writer, "WARNING: the stored key could not be read back: %s\n", err)
	}
	return nil
}

func (cli *Client) readKey(c *clipkg.Context, network string) (string, error) {
	if key := c.String("key"); key != "" {
		return strings.TrimSpace(key), nil
	}
	if file := c.String("file"); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrap(err, "reading key file")
		}
		return strings.TrimSpace(string(contents)), nil
	}
	if !cli.Prompter.IsTerminal() {
		return "", errors.New("no key given, pass --key or --file when stdin is not a terminal")
	}
	return cli.Prompter.PasswordPrompt(fmt.Sprintf("Enter private key for network %q: ", network)), nil
}

// ExportKey prints a stored private key. This is the one command that writes
// key material to stdout, and it asks first.
func (cli *Client) ExportKey(c *clipkg.Context) error {
	network := c.String("network")
	if network == "" {
		return cli.errorOut(errors.New("must pass --network"))
	}
	storage, _, err := cli.keyStore(c)
	if err != nil {
		return cli.errorOut(err)
	}

	fmt.Fprintln(cli.Writer, "WARNING: this will print the private key in plaintext")
	if !cli.confirm(fmt.Sprintf("Export the key for network %q? (y/N) ", network)) {
		fmt.Fprintln(cli.Writer, "Key export cancelled")
		return nil
	}

	key, err := storage.GetKey(context.Background(), network)
	if err != nil {
		return cli.errorOut(errors.Wrapf(err, "reading key for network %q", network))
	}
	fmt.Fprintf(cli.Writer, "Private key for network %q: %s\n", network, key)
	return nil
}

// RemoveKey deletes the stored key for a network, after confirmation.
func (cli *Client) RemoveKey(c *clipkg.Context) error {
	network := c.String("network")
	if network == "" {
		return cli.errorOut(errors.New("must pass --network"))
	}
	storage, _, err := cli.keyStore(c)
	if err != nil {
		return cli.errorOut(err)
	}

	if !cli.confirm(fmt.Sprintf("Remove the key for network %q? (y/N) ", network)) {
		fmt.Fprintln(cli.Writer, "Key removal cancelled")
		return nil
	}
	if err := storage.RemoveKey(context.Background(), network); err != nil {
		return cli.errorOut(errors.Wrapf(err, "removing key for network %q", network))
	}
	fmt.Fprintf(cli.Writer, "Removed key for network %q from the %s backend\n", network, storage.Backend())
	return nil
}

// ListKeys prints the networks that have a stored key, never the keys.
func (cli *Client) ListKeys(c *clipkg.Context) error {
	storage, _, err := cli.keyStore(c)
	if err != nil {
		return cli.errorOut(err)
	}
	networks, err := storage.ListKeys(context.Background())
	if err != nil {
		return cli.errorOut(errors.Wrap(err, "listing keys"))
	}
	if len(networks) == 0 {
		fmt.Fprintf(cli.Writer, "No keys stored in the %s backend\n", storage.Backend())
		return nil
	}
	fmt.Fprintf(cli.Writer, "Keys stored in the %s backend:\n", storage.Backend())
	for _, network := range networks {
		fmt.Fprintf(cli.Writer, "  %s\n", network)
	}
	return nil
}

// MigrateKeys copies keys from environment variables into the configured
// backend, one configured network at a time. Individual failures are
// reported and skipped so one bad network does not block the rest.
func (cli *Client) MigrateKeys(c *clipkg.Context) error {
	storage, cfg, err := cli.keyStore(c)
	if err != nil {
		return cli.errorOut(err)
	}
	if storage.Backend() == "env" {
		return cli.errorOut(errors.New("cannot migrate into the env backend, configure keyring, vault or aws-secrets key storage"))
	}

	env := keys.NewEnvStorage(cli.Logger, cfg.KeyStorage.Env.Prefix, c.GlobalString("private-key-env"))
	ctx := context.Background()
	var migrated, failed int
	for _, n := range cfg.Networks {
		raw, err := env.GetKey(ctx, n.Name)
		if err != nil {
			fmt.Fprintf(cli.Writer, "  - %s: no key in environment, skipped\n", n.Name)
			continue
		}
		if _, err := keys.ParsePrivateKey(raw); err != nil {
			fmt.Fprintf(cli.Writer, "  ✗ %s: %s\n", n.Name, err)
			failed++
			continue
		}
		if err := storage.StoreKey(ctx, n.Name, raw); err != nil {
			fmt.Fprintf(cli.Writer, "  ✗ %s: %s\n", n.Name, err)
			failed++
			continue
		}
		fmt.Fprintf(cli.Writer, "  ✓ %s: migrated to the %s backend\n", n.Name, storage.Backend())
		migrated++
	}
	fmt.Fprintf(cli.Writer, "Migration complete: %d migrated, %d failed\n", migrated, failed)
	return nil
}

// confirm prompts and proceeds only on an explicit y.
func (cli *Client) confirm(prompt string) bool {
	answer := strings.TrimSpace(cli.Prompter.Prompt(prompt))
	return strings.EqualFold(answer, "y")
}
