package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rustyonions/ron-core/internal/admission"
	"github.com/rustyonions/ron-core/internal/capability"
	"github.com/rustyonions/ron-core/internal/kernel"
	"github.com/rustyonions/ron-core/internal/obslog"
)

// fileConfig is the mapstructure shape read from environment variables and
// an optional config file, mirroring go-server-3/internal/config/config.go's
// nested-sections-plus-viper-defaults style.
type fileConfig struct {
	Service struct {
		Name    string `mapstructure:"name"`
		Version string `mapstructure:"version"`
		GitSHA  string `mapstructure:"git_sha"`
	} `mapstructure:"service"`

	Listen struct {
		Admin   string `mapstructure:"admin"`
		Edge    string `mapstructure:"edge"`
		Gateway string `mapstructure:"gateway"`
	} `mapstructure:"listen"`

	MaxConns     int           `mapstructure:"max_conns"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	Amnesia             bool          `mapstructure:"amnesia"`
	AmnesiaEnvVar       string        `mapstructure:"amnesia_env_var"`
	AmnesiaPollInterval time.Duration `mapstructure:"amnesia_poll_interval"`
	DevReadyEnvVar      string        `mapstructure:"dev_ready_env_var"`

	ConcurrencyLimit int    `mapstructure:"concurrency_limit"`
	AckWindowBytes   uint64 `mapstructure:"ack_window_bytes"`

	Admission struct {
		QPS     float64 `mapstructure:"qps"`
		Burst   int     `mapstructure:"burst"`
		IPQPS   float64 `mapstructure:"ip_qps"`
		IPBurst int     `mapstructure:"ip_burst"`
		IPTTL   time.Duration `mapstructure:"ip_ttl"`

		MaxInflight int `mapstructure:"max_inflight"`
		Headroom    int `mapstructure:"headroom"`
		Weights     struct {
			Anon  int `mapstructure:"anon"`
			Auth  int `mapstructure:"auth"`
			Admin int `mapstructure:"admin"`
		} `mapstructure:"weights"`

		MaxContentLength      int64    `mapstructure:"max_content_length"`
		RejectOnMissingLength bool     `mapstructure:"reject_on_missing_length"`
		AllowedEncodings      []string `mapstructure:"allowed_encodings"`
		DenyStacked           bool     `mapstructure:"deny_stacked"`
		MaxExpandedBytes      int64    `mapstructure:"max_expanded_bytes"`
		ExpansionCap          int64    `mapstructure:"expansion_cap"`
	} `mapstructure:"admission"`

	Readiness struct {
		MaxInflightThreshold int64   `mapstructure:"max_inflight_threshold"`
		ErrorRatePct         float64 `mapstructure:"error_rate_pct"`
		WindowSecs           int     `mapstructure:"window_secs"`
		HoldForSecs          int     `mapstructure:"hold_for_secs"`
	} `mapstructure:"readiness"`

	Lookup struct {
		Alpha           int           `mapstructure:"alpha"`
		Beta            int           `mapstructure:"beta"`
		HopBudget       int           `mapstructure:"hop_budget"`
		DefaultDeadline time.Duration `mapstructure:"default_deadline"`
		HedgeStagger    time.Duration `mapstructure:"hedge_stagger"`
		MinLegBudget    time.Duration `mapstructure:"min_leg_budget"`
	} `mapstructure:"lookup"`

	ConfigFile string `mapstructure:"config_file"`
	ObjectRoot string `mapstructure:"object_root"`
	NATSURL    string `mapstructure:"nats_url"`

	Gossip struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Group   string   `mapstructure:"group"`
	} `mapstructure:"gossip"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// loadConfig reads RON_-prefixed environment variables and an optional
// ./ronkerneld.{yaml,json,...} file, the way
// go-server-3/internal/config/config.go's Load does for its own daemon.
func loadConfig() (kernel.Config, obslog.Config, error) {
	v := viper.New()

	v.SetDefault("service.name", "ronkerneld")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.git_sha", "")

	v.SetDefault("listen.admin", ":9090")
	v.SetDefault("listen.edge", ":8080")
	v.SetDefault("listen.gateway", ":7700")

	v.SetDefault("max_conns", 1024)
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("idle_timeout", 60*time.Second)

	v.SetDefault("amnesia", false)
	v.SetDefault("amnesia_env_var", "RON_AMNESIA")
	v.SetDefault("amnesia_poll_interval", 5*time.Second)
	v.SetDefault("dev_ready_env_var", "RON_DEV_READY")

	v.SetDefault("concurrency_limit", 1024)
	v.SetDefault("ack_window_bytes", 64*1024)

	v.SetDefault("admission.qps", 50)
	v.SetDefault("admission.burst", 300)
	v.SetDefault("admission.ip_qps", 1)
	v.SetDefault("admission.ip_burst", 10)
	v.SetDefault("admission.ip_ttl", 5*time.Minute)
	v.SetDefault("admission.max_inflight", 1024)
	v.SetDefault("admission.headroom", 64)
	v.SetDefault("admission.weights.anon", 1)
	v.SetDefault("admission.weights.auth", 2)
	v.SetDefault("admission.weights.admin", 4)
	v.SetDefault("admission.max_content_length", 10<<20)
	v.SetDefault("admission.reject_on_missing_length", false)
	v.SetDefault("admission.allowed_encodings", []string{"identity", "gzip", "deflate", "br"})
	v.SetDefault("admission.deny_stacked", true)
	v.SetDefault("admission.max_expanded_bytes", 1<<20)
	v.SetDefault("admission.expansion_cap", 10)

	v.SetDefault("readiness.max_inflight_threshold", 64)
	v.SetDefault("readiness.error_rate_pct", 5)
	v.SetDefault("readiness.window_secs", 5)
	v.SetDefault("readiness.hold_for_secs", 6)

	v.SetDefault("lookup.alpha", 3)
	v.SetDefault("lookup.beta", 1)
	v.SetDefault("lookup.hop_budget", 4)
	v.SetDefault("lookup.default_deadline", 200*time.Millisecond)
	v.SetDefault("lookup.hedge_stagger", 2*time.Millisecond)
	v.SetDefault("lookup.min_leg_budget", 20*time.Millisecond)

	v.SetDefault("config_file", "")
	v.SetDefault("object_root", "./data/objects")
	v.SetDefault("nats_url", "")

	v.SetDefault("gossip.enabled", false)
	v.SetDefault("gossip.topic", "ron.dht.provide")
	v.SetDefault("gossip.group", "ronkerneld")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("shutdown_grace_period", 10*time.Second)

	v.SetConfigName("ronkerneld")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("RON")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return kernel.Config{}, obslog.Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	kc := kernel.Config{
		ServiceName: fc.Service.Name,
		Version:     fc.Service.Version,
		GitSHA:      fc.Service.GitSHA,

		BindAddr:    fc.Listen.Admin,
		EdgeAddr:    fc.Listen.Edge,
		GatewayAddr: fc.Listen.Gateway,

		MaxConns:     fc.MaxConns,
		ReadTimeout:  fc.ReadTimeout,
		WriteTimeout: fc.WriteTimeout,
		IdleTimeout:  fc.IdleTimeout,

		Amnesia:             fc.Amnesia,
		AmnesiaEnvVar:       fc.AmnesiaEnvVar,
		AmnesiaPollInterval: fc.AmnesiaPollInterval,
		DevReadyEnvVar:      fc.DevReadyEnvVar,

		ConcurrencyLimit: fc.ConcurrencyLimit,
		AckWindowBytes:   fc.AckWindowBytes,

		Admission: admission.Config{
			QPS:     fc.Admission.QPS,
			Burst:   fc.Admission.Burst,
			IPQPS:   fc.Admission.IPQPS,
			IPBurst: fc.Admission.IPBurst,
			IPTTL:   fc.Admission.IPTTL,

			MaxInflight: fc.Admission.MaxInflight,
			Headroom:    fc.Admission.Headroom,
			Weights: admission.Weights{
				Anon:  fc.Admission.Weights.Anon,
				Auth:  fc.Admission.Weights.Auth,
				Admin: fc.Admission.Weights.Admin,
			},

			MaxContentLength:      fc.Admission.MaxContentLength,
			RejectOnMissingLength: fc.Admission.RejectOnMissingLength,
			AllowedEncodings:      fc.Admission.AllowedEncodings,
			DenyStacked:           fc.Admission.DenyStacked,
			MaxExpandedBytes:      fc.Admission.MaxExpandedBytes,
			ExpansionCap:          fc.Admission.ExpansionCap,

			Readiness: admission.ReadinessShedConfig{
				MaxInflightThreshold: fc.Readiness.MaxInflightThreshold,
				ErrorRatePct:         fc.Readiness.ErrorRatePct,
				WindowSecs:           fc.Readiness.WindowSecs,
				HoldForSecs:          fc.Readiness.HoldForSecs,
				SampleInterval:       time.Second,
			},
		},

		Lookup: kernel.LookupConfig{
			Alpha:           fc.Lookup.Alpha,
			Beta:            fc.Lookup.Beta,
			HopBudget:       fc.Lookup.HopBudget,
			DefaultDeadline: fc.Lookup.DefaultDeadline,
			HedgeStagger:    fc.Lookup.HedgeStagger,
			MinLegBudget:    fc.Lookup.MinLegBudget,
		},

		ConfigFile: fc.ConfigFile,
		ObjectRoot: fc.ObjectRoot,
		NATSURL:    fc.NATSURL,

		Gossip: kernel.GossipConfig{
			Enabled: fc.Gossip.Enabled,
			Brokers: fc.Gossip.Brokers,
			Topic:   fc.Gossip.Topic,
			Group:   fc.Gossip.Group,
		},

		Verifier: capability.DefaultVerifierConfig(),

		BusCapacity:         1024,
		ShutdownGracePeriod: fc.ShutdownGracePeriod,
	}

	lc := obslog.Config{
		Service: fc.Service.Name,
		Level:   obslog.Level(fc.Logging.Level),
		Format:  obslog.Format(fc.Logging.Format),
	}

	return kc, lc, nil
}
