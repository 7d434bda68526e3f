// Package config loads and validates the JSON configuration file
// described in spec.md §6, applying the documented defaults. Struct
// shape follows the teacher's plain tagged-struct convention (see
// internal/ha's HeartbeatPayload/ClusterStatus) — no schema or config
// library is introduced.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PingWindow is the [min, max) interval ping delays are drawn from.
type PingWindow struct {
	Min time.Duration
	Max time.Duration
}

// pingWindowJSON is the on-disk shape: {"min": "1s", "max": "3s"}.
type pingWindowJSON struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Config is the immutable, process-wide configuration. See spec.md §3.
type Config struct {
	Replicate       int           `json:"replicate"`
	HashSeed        [2]uint64     `json:"hash_seed"`
	ContainerSecret []byte        `json:"container_secret"`
	PingEvery       PingWindow    `json:"ping_every"`
	AliveTimeout    time.Duration `json:"alive_timeout"`
	RemoveTimeout   time.Duration `json:"remove_timeout"`
	StableDelay     time.Duration `json:"stable_delay"`
	RebalanceEvery  time.Duration `json:"rebalance_every"`
	InitialPeers    []string      `json:"initial_peers"`
}

// fileConfig mirrors the JSON document; the single durations are strings
// or bare seconds handled by durationJSON, ping_every's min and max are
// duration strings only, byte slices are JSON arrays of u8.
type fileConfig struct {
	Replicate       *int            `json:"replicate"`
	HashSeed        [2]uint64       `json:"hash_seed"`
	ContainerSecret byteArrayJSON   `json:"container_secret"`
	PingEvery       *pingWindowJSON `json:"ping_every"`
	AliveTimeout    *durationJSON   `json:"alive_timeout"`
	RemoveTimeout   *durationJSON   `json:"remove_timeout"`
	StableDelay     *durationJSON   `json:"stable_delay"`
	RebalanceEvery  *durationJSON   `json:"rebalance_every"`
	InitialPeers    []string        `json:"initial_peers"`
}

// byteArrayJSON accepts the wire shape spec.md §6 specifies for
// container_secret — a JSON array of u8 — since encoding/json's default
// []byte handling expects a base64 string instead.
type byteArrayJSON []byte

func (b *byteArrayJSON) UnmarshalJSON(data []byte) error {
	var asInts []uint8
	if err := json.Unmarshal(data, &asInts); err != nil {
		return fmt.Errorf("container_secret must be a JSON array of byte values: %w", err)
	}
	*b = byteArrayJSON(asInts)
	return nil
}

// durationJSON accepts either a Go duration string ("6s") or a bare
// number of seconds, since spec.md's example config gives durations
// without units.
type durationJSON time.Duration

func (d *durationJSON) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = durationJSON(parsed)
		return nil
	}

	var asSeconds float64
	if err := json.Unmarshal(data, &asSeconds); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = durationJSON(time.Duration(asSeconds * float64(time.Second)))
	return nil
}

// Defaults, from spec.md §6.
const (
	DefaultReplicate      = 2
	DefaultPingMin        = 1 * time.Second
	DefaultPingMax        = 3 * time.Second
	DefaultAliveTimeout   = 6 * time.Second
	DefaultRemoveTimeout  = 300 * time.Second
	DefaultStableDelay    = 12 * time.Second
	DefaultRebalanceEvery = 12 * time.Second
)

// Load reads and validates the JSON config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := &Config{
		Replicate:       DefaultReplicate,
		HashSeed:        fc.HashSeed,
		ContainerSecret: []byte(fc.ContainerSecret),
		PingEvery:       PingWindow{Min: DefaultPingMin, Max: DefaultPingMax},
		AliveTimeout:    DefaultAliveTimeout,
		RemoveTimeout:   DefaultRemoveTimeout,
		StableDelay:     DefaultStableDelay,
		RebalanceEvery:  DefaultRebalanceEvery,
		InitialPeers:    fc.InitialPeers,
	}

	if fc.Replicate != nil {
		cfg.Replicate = *fc.Replicate
	}
	if fc.PingEvery != nil {
		min, err := time.ParseDuration(fc.PingEvery.Min)
		if err != nil {
			return nil, fmt.Errorf("invalid ping_every.min %q: %w", fc.PingEvery.Min, err)
		}
		max, err := time.ParseDuration(fc.PingEvery.Max)
		if err != nil {
			return nil, fmt.Errorf("invalid ping_every.max %q: %w", fc.PingEvery.Max, err)
		}
		cfg.PingEvery = PingWindow{Min: min, Max: max}
	}
	if fc.AliveTimeout != nil {
		cfg.AliveTimeout = time.Duration(*fc.AliveTimeout)
	}
	if fc.RemoveTimeout != nil {
		cfg.RemoveTimeout = time.Duration(*fc.RemoveTimeout)
	}
	if fc.StableDelay != nil {
		cfg.StableDelay = time.Duration(*fc.StableDelay)
	}
	if fc.RebalanceEvery != nil {
		cfg.RebalanceEvery = time.Duration(*fc.RebalanceEvery)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants from spec.md §3.
func (c *Config) Validate() error {
	if c.Replicate < 0 {
		return fmt.Errorf("replicate must be non-negative, got %d", c.Replicate)
	}
	if c.PingEvery.Min > c.PingEvery.Max {
		return fmt.Errorf("ping_every.min (%s) must be <= ping_every.max (%s)", c.PingEvery.Min, c.PingEvery.Max)
	}
	if c.AliveTimeout >= c.RemoveTimeout {
		return fmt.Errorf("alive_timeout (%s) must be < remove_timeout (%s)", c.AliveTimeout, c.RemoveTimeout)
	}
	if len(c.ContainerSecret) == 0 {
		return fmt.Errorf("container_secret must not be empty")
	}
	return nil
}

// BearerToken renders the Authorization header value spec.md §6 defines:
// "Bearer " + 16 lowercase hex digits of hash_seed.0 + "-" + hash_seed.1.
func (c *Config) BearerToken() string {
	return fmt.Sprintf("Bearer %016x-%016x", c.HashSeed[0], c.HashSeed[1])
}
