// Package djlink wires the Device Finder, Beat Finder, Virtual Player,
// Connection Manager, and Query Engine together into a single process
// lifecycle. Peer.Start and Peer.Stop start and stop each component
// explicitly in dependency order; the components do not cascade on their
// own (stopping the Device Finder by itself does not stop the Virtual
// Player or Connection Manager, and starting the Virtual Player does not
// start the Device Finder). Peer is assembly, not new protocol logic —
// see the individual internal/* packages for that.
package djlink

import (
	"context"
	"fmt"
	"net"

	"github.com/beatlink/djlink/internal/beatfinder"
	"github.com/beatlink/djlink/internal/config"
	"github.com/beatlink/djlink/internal/dbcache"
	"github.com/beatlink/djlink/internal/dbconn"
	"github.com/beatlink/djlink/internal/dbquery"
	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/metrics"
	"github.com/beatlink/djlink/internal/protocol"
	"github.com/beatlink/djlink/internal/virtualplayer"
	"github.com/prometheus/client_golang/prometheus"
)

// Peer is one Pro DJ Link network participant: the five protocol
// components plus the optional local blob cache and metrics registry
// that sit alongside them.
type Peer struct {
	Devices *devicefinder.Finder
	Beats   *beatfinder.Finder
	Player  *virtualplayer.Player
	Conns   *dbconn.Manager
	Query   *dbquery.Engine
	Cache   *dbcache.Cache // nil unless a CachePath was given

	Metrics *metrics.Metrics

	unsubBeat func()
}

// Options configures New. A zero Options wires every component with its
// own package defaults.
type Options struct {
	// Config holds the negotiable options spec.md §6 names. A nil Config
	// loads from the environment via config.Load.
	Config *config.Config

	// CachePath, if non-empty, opens a dbcache.Cache at that path and
	// wires it as New's returned Peer.Cache. Left nil when empty: the
	// blob cache is optional infrastructure, not a required component.
	CachePath string

	// Registerer receives every metric Peer registers; nil registers
	// against the default global Prometheus registry.
	Registerer prometheus.Registerer
}

// New builds a Peer from opts, but does not start it: call Start once
// every other setup (e.g. mounting metrics.Handler on an HTTP mux) is
// done.
func New(opts Options) (*Peer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}

	devices := devicefinder.New()
	beats := beatfinder.New()
	player := virtualplayer.New(devices, virtualplayer.Config{
		DeviceName:              cfg.DeviceName,
		DeviceNumber:            cfg.DeviceNumber,
		UseStandardPlayerNumber: cfg.UseStandardPlayerNumber,
		AnnounceInterval:        cfg.AnnounceInterval,
		SocketTimeout:           cfg.SocketTimeout,
	})

	m := metrics.New(opts.Registerer)

	idleLimit := cfg.IdleLimit
	if !cfg.IdleLimitSet {
		// dbconn.Config.withDefaults does not default IdleLimit (zero is
		// itself a meaningful "close immediately" setting there), so an
		// unset option must still resolve to spec.md §6's literal default
		// here rather than silently becoming zero.
		idleLimit = config.DefaultIdleLimit()
	}
	conns := dbconn.New(devices, player, dbconn.Config{
		SocketTimeout: cfg.SocketTimeout,
		IdleLimit:     idleLimit,
		Metrics:       m,
	})

	var cache *dbcache.Cache
	if opts.CachePath != "" {
		c, err := dbcache.Open(opts.CachePath)
		if err != nil {
			return nil, fmt.Errorf("djlink: open dbcache: %w", err)
		}
		cache = c
	}

	query := dbquery.New(conns, dbquery.Config{
		MenuBatchSize: cfg.MenuBatchSize,
		Metrics:       m,
		Cache:         cache,
	})

	p := &Peer{
		Devices: devices,
		Beats:   beats,
		Player:  player,
		Conns:   conns,
		Query:   query,
		Cache:   cache,
		Metrics: m,
	}

	devices.SelfFilter = func(ip net.IP, deviceNumber byte) bool {
		return deviceNumber == player.DeviceNumber() && player.DeviceNumber() != 0
	}

	return p, nil
}

// Start brings the Peer's components up in dependency order: the Device
// Finder first (the Virtual Player and Connection Manager both depend on
// its device table), then the Virtual Player, then the Beat Finder and
// Connection Manager. Idempotent per
// component; a failure midway leaves already-started components running
// so Stop can unwind them.
func (p *Peer) Start() error {
	if err := p.Devices.Start(); err != nil {
		return fmt.Errorf("djlink: start devicefinder: %w", err)
	}
	if err := p.Player.Start(); err != nil {
		return fmt.Errorf("djlink: start virtualplayer: %w", err)
	}
	if err := p.Beats.Start(); err != nil {
		return fmt.Errorf("djlink: start beatfinder: %w", err)
	}
	if err := p.Conns.Start(); err != nil {
		return fmt.Errorf("djlink: start dbconn: %w", err)
	}

	p.unsubBeat = p.Beats.OnBeat(func(b protocol.Beat) {
		p.Metrics.BeatsTotal.Inc()
		p.Player.ObserveBeat(b)
	})
	p.Devices.OnFound(func(e devicefinder.Entry) {
		p.Metrics.DevicesTracked.Set(float64(len(p.Devices.GetCurrentDevices())))
	})
	p.Devices.OnLost(func(e devicefinder.Entry) {
		p.Metrics.DevicesTracked.Set(float64(len(p.Devices.GetCurrentDevices())))
		if p.Cache != nil {
			p.Cache.Purge(context.Background(), e.Announcement.IP.String())
		}
	})
	p.Player.OnMaster(func(ev virtualplayer.MasterEvent) {
		if ev.Kind == virtualplayer.MasterChanged {
			p.Metrics.MasterChanges.Inc()
		}
	})

	return nil
}

// Stop stops every component in reverse start order, then closes the blob
// cache if one was opened.
func (p *Peer) Stop() {
	if p.unsubBeat != nil {
		p.unsubBeat()
	}
	p.Conns.Stop()
	p.Beats.Stop()
	p.Player.Stop()
	p.Devices.Stop()
	if p.Cache != nil {
		p.Cache.Close()
	}
}
