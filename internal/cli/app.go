package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tay1862/kinsaep-core/internal/config"
	"github.com/tay1862/kinsaep-core/internal/envelope"
	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/outbox"
	"github.com/tay1862/kinsaep-core/internal/store"
	"github.com/tay1862/kinsaep-core/internal/syncer"
	"github.com/tay1862/kinsaep-core/internal/tables"
)

// App holds the wired-up components behind every command: store,
// outbox, sync engine and session manager over one SQLite database.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Queue    *outbox.Queue
	Engine   *syncer.Engine
	Sessions *tables.Manager

	relays []*syncer.RelaySink
}

// loadConfig resolves the --config flag, falling back to defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// openApp wires every component. The device key must already exist
// (kinsaep keys new); the keyring is created on first use.
func openApp(opts *RootOptions) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	kp, err := loadDeviceKey(cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	kr, err := openKeyring(cfg)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DatabasePath, cfg.EventKindRanges())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open event store", err)
	}

	q, err := outbox.New(s.DB(), cfg.OutboxBackoff())
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "open sync queue", err)
	}

	kinds := cfg.TableKinds()
	eng, err := syncer.New(s, q, envelope.NewService(kr), sensitivePolicy(cfg, kinds), kp,
		syncer.WithGroupCode(cfg.GroupCode))
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "open sync engine", err)
	}

	app := &App{
		Config:   cfg,
		Store:    s,
		Queue:    q,
		Engine:   eng,
		Sessions: tables.NewManager(eng, kinds),
	}
	for _, url := range cfg.Relays {
		sink := syncer.NewRelaySink(relayName(url), url)
		eng.AddSink(sink)
		app.relays = append(app.relays, sink)
	}
	return app, nil
}

// Close releases the database and every relay connection.
func (a *App) Close() {
	for _, r := range a.relays {
		r.Close()
	}
	a.Store.Close()
}

// sensitivePolicy envelopes every domain record kind. With a group
// code the whole trust group shares an argon2id-derived key; without
// one the device keyring's AES key is used.
func sensitivePolicy(cfg *config.Config, kinds tables.Kinds) syncer.Policy {
	alg := envelope.AlgAES256GCM
	if cfg.GroupCode != "" {
		alg = envelope.AlgArgon2id
	}
	return syncer.Policy{Sensitive: map[int]envelope.Algorithm{
		kinds.Session: alg,
		kinds.Order:   alg,
		kinds.Receipt: alg,
	}}
}

func loadDeviceKey(path string) (*event.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("device key %s not found (run: kinsaep keys new)", path), err)
	}
	kp, err := event.ParsePrivateKey(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "parse device key", err)
	}
	return kp, nil
}

func openKeyring(cfg *config.Config) (*envelope.Keyring, error) {
	kr, err := envelope.LoadKeyring(cfg.KeyringPath, cfg.KeyGraceWindow)
	if err == nil {
		return kr, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, WrapExitError(ExitCommandError, "load keyring", err)
	}
	kr, err = envelope.NewKeyring(cfg.KeyGraceWindow)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create keyring", err)
	}
	if err := kr.Save(cfg.KeyringPath); err != nil {
		return nil, WrapExitError(ExitCommandError, "save keyring", err)
	}
	return kr, nil
}

// relayName derives a stable sink name from a relay URL.
func relayName(url string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(url, "wss://"), "ws://")
	return "relay:" + strings.TrimSuffix(name, "/")
}
