// Package config loads and validates the device configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/outbox"
	"github.com/tay1862/kinsaep-core/internal/tables"
)

// KindRange mirrors event.KindRange for the YAML surface.
type KindRange struct {
	Lo    int    `yaml:"lo"`
	Hi    int    `yaml:"hi"`
	Class string `yaml:"class"`
}

// Kinds assigns event kinds to the domain record types.
type Kinds struct {
	Session     int `yaml:"session"`
	Order       int `yaml:"order"`
	BillRequest int `yaml:"bill_request"`
	Receipt     int `yaml:"receipt"`
}

// Backoff configures outbox retry behavior.
type Backoff struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Config is the full device configuration.
type Config struct {
	// DatabasePath is the SQLite file holding events, outbox and
	// sync state.
	DatabasePath string `yaml:"database_path"`

	// Relays lists websocket relay URLs to sync with.
	Relays []string `yaml:"relays"`

	// KeyPath locates the device signing key (hex seed file).
	KeyPath string `yaml:"key_path"`

	// KeyringPath locates the envelope keyring file.
	KeyringPath string `yaml:"keyring_path"`

	// GroupCode derives the shared trust-group key. Empty disables
	// argon2id envelopes.
	GroupCode string `yaml:"group_code"`

	// KeyGraceWindow keeps rotated keys decrypt-capable.
	KeyGraceWindow time.Duration `yaml:"key_grace_window"`

	// KindRanges overrides the default kind classification when set.
	KindRanges []KindRange `yaml:"kind_ranges"`

	Kinds   Kinds   `yaml:"kinds"`
	Backoff Backoff `yaml:"backoff"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	bo := outbox.DefaultBackoff()
	tk := tables.DefaultKinds()
	return &Config{
		DatabasePath:   "kinsaep.db",
		KeyPath:        "device.key",
		KeyringPath:    "keyring.json",
		KeyGraceWindow: 72 * time.Hour,
		Kinds: Kinds{
			Session:     tk.Session,
			Order:       tk.Order,
			BillRequest: tk.BillRequest,
			Receipt:     tk.Receipt,
		},
		Backoff: Backoff{
			Base:        bo.Base,
			Cap:         bo.Cap,
			MaxAttempts: bo.MaxAttempts,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	for _, r := range c.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("relay %q: must be a ws:// or wss:// URL", r)
		}
	}
	if c.Backoff.Base <= 0 {
		return fmt.Errorf("backoff.base must be positive")
	}
	if c.Backoff.Cap < c.Backoff.Base {
		return fmt.Errorf("backoff.cap must be >= backoff.base")
	}
	if c.Backoff.MaxAttempts < 1 {
		return fmt.Errorf("backoff.max_attempts must be at least 1")
	}
	for _, kr := range c.KindRanges {
		if kr.Hi <= kr.Lo {
			return fmt.Errorf("kind range [%d,%d): hi must exceed lo", kr.Lo, kr.Hi)
		}
		if _, err := parseClass(kr.Class); err != nil {
			return err
		}
	}
	ranges := c.EventKindRanges()
	for name, kind := range map[string]int{
		"kinds.session": c.Kinds.Session,
		"kinds.order":   c.Kinds.Order,
	} {
		if ranges.ClassOf(kind) != event.ClassReplaceable {
			return fmt.Errorf("%s (%d) must fall in a replaceable kind range", name, kind)
		}
	}
	if ranges.ClassOf(c.Kinds.Receipt) != event.ClassRegular {
		return fmt.Errorf("kinds.receipt (%d) must fall in a regular kind range", c.Kinds.Receipt)
	}
	return nil
}

// EventKindRanges converts the configured ranges, falling back to the
// defaults when none are set.
func (c *Config) EventKindRanges() event.KindRanges {
	if len(c.KindRanges) == 0 {
		return event.DefaultRanges()
	}
	out := make(event.KindRanges, 0, len(c.KindRanges))
	for _, kr := range c.KindRanges {
		class, err := parseClass(kr.Class)
		if err != nil {
			continue
		}
		out = append(out, event.KindRange{Lo: kr.Lo, Hi: kr.Hi, Class: class})
	}
	return out
}

// OutboxBackoff converts the retry settings.
func (c *Config) OutboxBackoff() outbox.Backoff {
	return outbox.Backoff{
		Base:        c.Backoff.Base,
		Cap:         c.Backoff.Cap,
		MaxAttempts: c.Backoff.MaxAttempts,
	}
}

// TableKinds converts the kind assignments.
func (c *Config) TableKinds() tables.Kinds {
	return tables.Kinds{
		Session:     c.Kinds.Session,
		Order:       c.Kinds.Order,
		BillRequest: c.Kinds.BillRequest,
		Receipt:     c.Kinds.Receipt,
	}
}

func parseClass(s string) (event.Class, error) {
	switch s {
	case "regular":
		return event.ClassRegular, nil
	case "replaceable":
		return event.ClassReplaceable, nil
	case "ephemeral":
		return event.ClassEphemeral, nil
	default:
		return 0, fmt.Errorf("kind range class %q: must be regular, replaceable or ephemeral", s)
	}
}
