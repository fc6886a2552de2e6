package kernel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/admission"
	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/capability"
	"github.com/rustyonions/ron-core/internal/configcell"
	"github.com/rustyonions/ron-core/internal/dht"
	"github.com/rustyonions/ron-core/internal/dht/gossip"
	"github.com/rustyonions/ron-core/internal/edgehttp"
	"github.com/rustyonions/ron-core/internal/health"
	"github.com/rustyonions/ron-core/internal/oap"
	"github.com/rustyonions/ron-core/internal/objectstore"
	"github.com/rustyonions/ron-core/internal/supervisor"
)

// Kernel is the assembled process: every component from spec.md §4 wired
// together and registered with the supervisor. Construction (New) does all
// the fallible setup (binding is deferred to the supervised service
// factories, since a transient bind failure there is a restart-with-backoff
// condition, not a fatal one); Start begins serving and Shutdown drains.
type Kernel struct {
	cfg    Config
	logger zerolog.Logger

	Bus        *bus.Bus
	Readiness  *health.Readiness
	Registry   *health.Registry
	Exposer    *health.Exposer
	Cell       *configcell.Cell
	Supervisor *supervisor.Supervisor

	Admission *admission.Pipeline
	Store     *dht.Store
	Lookup    *dht.Lookup
	Objects   *objectstore.FSStore
	EdgeHTTP  *edgehttp.Server
	OAP       *oap.Server

	gossipProducer *gossip.Producer
	gossipConsumer *gossip.Consumer
	natsForwarder  *bus.NATSForwarder

	boundListeners int32 // atomic count of successful listener binds, restarts included

	addrMu      sync.RWMutex
	gatewayAddr string
	edgeAddr    string
	adminAddr   string
}

// GatewayAddr returns the OAP listener's actual bound address, empty until
// the supervised service has started at least once.
func (k *Kernel) GatewayAddr() string { return k.getAddr(&k.gatewayAddr) }

// EdgeAddr returns the content-fetch HTTP listener's actual bound address.
func (k *Kernel) EdgeAddr() string { return k.getAddr(&k.edgeAddr) }

// AdminAddr returns the admin exposer's actual bound address.
func (k *Kernel) AdminAddr() string { return k.getAddr(&k.adminAddr) }

func (k *Kernel) getAddr(p *string) string {
	k.addrMu.RLock()
	defer k.addrMu.RUnlock()
	return *p
}

func (k *Kernel) setAddr(p *string, v string) {
	k.addrMu.Lock()
	*p = v
	k.addrMu.Unlock()
}

// New assembles every component and registers supervised services. It binds
// no listener and runs no supervised service; call Start for that. When a
// NATS URL is configured, the forwarder connects and starts forwarding here.
func New(cfg Config, logger zerolog.Logger) (*Kernel, error) {
	k := &Kernel{cfg: cfg, logger: logger}

	k.Bus = bus.New(cfg.BusCapacity)
	k.Readiness = health.New(cfg.DevReadyEnvVar)
	k.Registry = health.NewRegistry()
	k.Exposer = health.NewExposer(k.Readiness, k.Registry, k.Bus, logger)
	k.Supervisor = supervisor.New(k.Bus, k.Readiness, logger).WithRegistry(k.Registry)

	k.Cell = configcell.NewCell(configcell.Snapshot{Version: 1, Amnesia: cfg.Amnesia})
	var fileWatcher *configcell.FileWatcher
	if cfg.ConfigFile != "" {
		fw, err := configcell.NewFileWatcher(cfg.ConfigFile, k.Cell, k.Bus, logger)
		if err != nil {
			return nil, fmt.Errorf("kernel: load config file %s: %w", cfg.ConfigFile, err)
		}
		fileWatcher = fw
	}
	var envPoller *configcell.EnvPoller
	if cfg.AmnesiaEnvVar != "" {
		envPoller = configcell.NewEnvPoller(cfg.AmnesiaEnvVar, cfg.AmnesiaPollInterval, k.Cell, k.Bus, logger)
	}

	k.Admission = admission.NewPipeline(cfg.Admission)

	k.Store = dht.NewStore()
	k.Lookup = &dht.Lookup{Store: k.Store, Querier: nullQuerier{}, Bus: k.Bus, Logger: logger}

	objs, err := objectstore.NewFSStore(cfg.ObjectRoot)
	if err != nil {
		return nil, fmt.Errorf("kernel: open object root %s: %w", cfg.ObjectRoot, err)
	}
	k.Objects = objs

	var keys capability.MacKeyProvider
	if len(cfg.CapabilityKeys) > 0 {
		keys = capability.StaticKeyProvider(cfg.CapabilityKeys)
	}
	k.EdgeHTTP = &edgehttp.Server{
		Source:      k.Objects,
		Admission:   k.Admission,
		VerifierCfg: cfg.Verifier,
		Keys:        keys,
		Version: edgehttp.VersionInfo{
			Service: cfg.ServiceName,
			Version: cfg.Version,
			GitSHA:  cfg.GitSHA,
			API:     map[string]string{"http": cfg.EdgeAddr},
		},
		Logger: logger,
	}

	k.OAP = oap.NewServer(k.Bus, logger)
	if cfg.ConcurrencyLimit > 0 {
		k.OAP.ConcurrencyLimit = cfg.ConcurrencyLimit
	}
	if cfg.AckWindowBytes > 0 {
		k.OAP.AckWindowBytes = cfg.AckWindowBytes
	}

	if cfg.Gossip.Enabled {
		producer, err := gossip.NewProducer(cfg.Gossip.Brokers, cfg.Gossip.Topic, logger)
		if err != nil {
			return nil, fmt.Errorf("kernel: gossip producer: %w", err)
		}
		consumer, err := gossip.NewConsumer(cfg.Gossip.Brokers, cfg.Gossip.Topic, cfg.Gossip.Group, k.Store, logger)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("kernel: gossip consumer: %w", err)
		}
		k.gossipProducer = producer
		k.gossipConsumer = consumer
	}

	if cfg.NATSURL != "" {
		forwarder, err := bus.NewNATSForwarder(k.Bus, cfg.NATSURL, logger)
		if err != nil {
			// Best-effort integration per SPEC_FULL.md §5.1: log and continue
			// without cross-process event forwarding.
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("kernel: nats forwarder unavailable")
		} else {
			k.natsForwarder = forwarder
		}
	}

	k.registerServices(fileWatcher, envPoller)

	k.Readiness.SetGate("cfg_loaded", true)
	k.Readiness.SetGate("deps_ok", true)

	return k, nil
}

func (k *Kernel) registerServices(fileWatcher *configcell.FileWatcher, envPoller *configcell.EnvPoller) {
	k.Supervisor.AddService("oap-gateway", k.serveOAP)
	k.Supervisor.AddService("edge-http", k.serveEdgeHTTP)
	k.Supervisor.AddService("admin-exposer", k.serveAdmin)
	k.Supervisor.AddService("admission-shedder", func(ctx context.Context) error {
		k.Admission.Shedder().Run(ctx, k.logger)
		return nil
	})

	if fileWatcher != nil {
		k.Supervisor.AddService("config-watcher", fileWatcher.Run)
	}
	if envPoller != nil {
		k.Supervisor.AddService("env-poller", envPoller.Run)
	}
	if k.gossipConsumer != nil {
		k.Supervisor.AddService("gossip-consumer", func(ctx context.Context) error {
			k.gossipConsumer.Run(ctx)
			return nil
		})
	}
}

func (k *Kernel) serveOAP(ctx context.Context) error {
	k.Readiness.SetGate("gateway_bound", false)
	ln, err := net.Listen("tcp", k.cfg.GatewayAddr)
	if err != nil {
		return fmt.Errorf("oap-gateway: listen %s: %w", k.cfg.GatewayAddr, err)
	}
	k.Readiness.SetGate("gateway_bound", true)
	k.setAddr(&k.gatewayAddr, ln.Addr().String())
	k.markListenerBound()
	return k.OAP.Serve(ctx, ln)
}

func (k *Kernel) serveEdgeHTTP(ctx context.Context) error {
	return k.serveHTTP(ctx, k.cfg.EdgeAddr, &k.edgeAddr, k.EdgeHTTP.Handler())
}

func (k *Kernel) serveAdmin(ctx context.Context) error {
	return k.serveHTTP(ctx, k.cfg.BindAddr, &k.adminAddr, k.Exposer.Handler())
}

func (k *Kernel) serveHTTP(ctx context.Context, addr string, boundAddr *string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	ln = newLimitListener(ln, k.cfg.MaxConns)
	k.setAddr(boundAddr, ln.Addr().String())
	k.markListenerBound()

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  k.cfg.ReadTimeout,
		WriteTimeout: k.cfg.WriteTimeout,
		IdleTimeout:  k.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// markListenerBound flips the "listeners_bound" essential gate once the
// gateway, edge-http and admin-exposer listeners have each bound
// successfully at least once.
func (k *Kernel) markListenerBound() {
	atomic.AddInt32(&k.boundListeners, 1)
	if k.GatewayAddr() != "" && k.EdgeAddr() != "" && k.AdminAddr() != "" {
		k.Readiness.SetGate("listeners_bound", true)
	}
}

// Start spawns every supervised service and marks the exposer alive.
func (k *Kernel) Start() {
	k.Supervisor.Spawn()
	k.Exposer.SetAlive(true)
}

// Shutdown stops every supervised service, waiting up to
// cfg.ShutdownGracePeriod, then releases external connections.
func (k *Kernel) Shutdown() {
	k.Exposer.SetAlive(false)
	deadline := k.cfg.ShutdownGracePeriod
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	k.Supervisor.Shutdown(deadline)

	if k.gossipProducer != nil {
		k.gossipProducer.Close()
	}
	if k.natsForwarder != nil {
		k.natsForwarder.Close()
	}
}
