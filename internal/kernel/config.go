// Package kernel wires C1-C7 into one running process: the bus, supervisor,
// exposer, config cell, OAP gateway, capability verifier, admission
// pipeline, DHT lookup and the content-fetch HTTP surface. It is the
// composition root; individual components remain independently testable
// and this package only owns their lifecycle wiring, grounded on the
// daemon-assembly shape of go-server-3/cmd/odin-ws/main.go.
package kernel

import (
	"time"

	"github.com/rustyonions/ron-core/internal/admission"
	"github.com/rustyonions/ron-core/internal/capability"
)

// LookupConfig bundles the DHT lookup knobs spec.md §6 lists under "lookup".
type LookupConfig struct {
	Alpha          int
	Beta           int
	HopBudget      int
	DefaultDeadline time.Duration
	HedgeStagger   time.Duration
	MinLegBudget   time.Duration
}

// DefaultLookupConfig mirrors the hedge-tail-rescue scenario in spec.md §8.4.
func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		Alpha:           3,
		Beta:            1,
		HopBudget:       4,
		DefaultDeadline: 200 * time.Millisecond,
		HedgeStagger:    2 * time.Millisecond,
		MinLegBudget:    20 * time.Millisecond,
	}
}

// GossipConfig controls the optional Kafka/Redpanda provider-gossip feed
// (internal/dht/gossip), a feature spec.md leaves as an abstract external
// collaborator; disabled by default.
type GossipConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	Group   string
}

// Config is this process's full static configuration surface, matching the
// fields spec.md §6 lists under "Configuration inputs" plus the kernel's
// own listener addresses and optional integrations.
type Config struct {
	ServiceName string
	Version     string
	GitSHA      string

	BindAddr    string // admin exposer (/metrics, /healthz, /readyz, /events)
	EdgeAddr    string // content-fetch surface (/version, /o/<cid>/<relpath>)
	GatewayAddr string // OAP/1 listener

	MaxConns     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Amnesia             bool
	AmnesiaEnvVar       string
	AmnesiaPollInterval time.Duration
	DevReadyEnvVar      string

	ConcurrencyLimit int
	AckWindowBytes   uint64

	Admission admission.Config
	Lookup    LookupConfig

	ConfigFile string

	NATSURL string
	Gossip  GossipConfig

	ObjectRoot string

	CapabilityKeys map[string][]byte // "kid:tid" -> 32-byte MAC key
	Verifier       capability.VerifierConfig

	BusCapacity         int
	ShutdownGracePeriod time.Duration
}

// DefaultConfig mirrors spec.md §4's per-component defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName: "ronkerneld",

		BindAddr:    ":9090",
		EdgeAddr:    ":8080",
		GatewayAddr: ":7700",

		MaxConns:     1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,

		AmnesiaEnvVar:       "RON_AMNESIA",
		AmnesiaPollInterval: 5 * time.Second,
		DevReadyEnvVar:      "RON_DEV_READY",

		ConcurrencyLimit: 1024,
		AckWindowBytes:   64 * 1024,

		Admission: admission.DefaultConfig(),
		Lookup:    DefaultLookupConfig(),

		ObjectRoot: "./data/objects",

		Verifier: capability.DefaultVerifierConfig(),

		BusCapacity:         1024,
		ShutdownGracePeriod: 10 * time.Second,
	}
}
