// Command djlink-monitor joins a Pro DJ Link network as a Virtual Player,
// logs device/beat/master events as they happen, and serves Prometheus
// metrics over HTTP.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/beatlink/djlink/internal/config"
	"github.com/beatlink/djlink/internal/devicefinder"
	"github.com/beatlink/djlink/internal/metrics"
	"github.com/beatlink/djlink/internal/protocol"
	"github.com/beatlink/djlink/internal/virtualplayer"

	"github.com/beatlink/djlink"
)

func main() {
	envFile := flag.String("env", ".env", "path to a KEY=value environment file (optional)")
	cachePath := flag.String("cache", "", "path to a sqlite blob cache (optional; disabled if empty)")
	addr := flag.String("addr", ":9090", "HTTP listen address for /metrics")
	quiet := flag.Bool("quiet", false, "suppress per-device and per-beat log lines")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("load %s: %v", *envFile, err)
	}

	peer, err := djlink.New(djlink.Options{
		Config:    config.Load(),
		CachePath: *cachePath,
	})
	if err != nil {
		log.Fatalf("djlink: %v", err)
	}

	if !*quiet {
		peer.Devices.OnFound(func(e devicefinder.Entry) {
			log.Printf("device found: %s (#%d) at %s", e.Announcement.DeviceName, e.Announcement.DeviceNumber, e.Announcement.IP)
		})
		peer.Devices.OnLost(func(e devicefinder.Entry) {
			log.Printf("device lost: %s (#%d)", e.Announcement.DeviceName, e.Announcement.DeviceNumber)
		})
		peer.Beats.OnBeat(func(b protocol.Beat) {
			log.Printf("beat: device %d, beat %d of bar", b.DeviceNumber(), b.BeatWithinBar)
		})
		peer.Player.OnMaster(func(ev virtualplayer.MasterEvent) {
			if ev.Kind == virtualplayer.MasterChanged {
				log.Printf("tempo master changed: device %d, has_master=%v", ev.MasterDevice, ev.HasMaster)
			}
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	go func() {
		log.Printf("metrics listening on %s", *addr)
		if err := http.ListenAndServe(*addr, mux); err != nil {
			log.Fatalf("http: %v", err)
		}
	}()

	if err := peer.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer peer.Stop()

	log.Printf("joined as device #%d", peer.Player.DeviceNumber())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
}
