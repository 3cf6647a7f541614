// Command cisessiond runs the EN 50221 Common Interface session layer as a
// standalone daemon: it accepts slot connections over TCP, demultiplexes
// SPDUs onto logical sessions, and exposes a read-only HTTP observability
// surface over the result.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cisessiond/internal/config"
	"cisessiond/internal/httpapi"
	"cisessiond/internal/metrics"
	"cisessiond/internal/session"
	"cisessiond/internal/spdu"
	"cisessiond/internal/transport/streamtransport"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, protocol-incompatible rewrites
// Minor (0.y.0): New resources, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

// logrusAdapter satisfies session.Logger and streamtransport.Logger with a
// shared *logrus.Logger, so both packages log through the one configured
// sink without importing logrus themselves.
type logrusAdapter struct{}

func (logrusAdapter) Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func (logrusAdapter) Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func (logrusAdapter) Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Log.Path != "" {
		if logFile, err := os.OpenFile(cfg.Log.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(logFile)
		} else {
			log.Warnf("could not open log file %s: %v, logging to stdout", cfg.Log.Path, err)
		}
	}

	log.Infof("Starting cisessiond v%s", Version)
	log.Infof("  transport: %s %s", cfg.Transport.Network, cfg.Transport.Address)
	log.Infof("  max sessions: %d", cfg.Sessions.MaxSessions)
	log.Infof("  http port: %d", cfg.HTTP.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		cancel()
	}()

	logAdapter := logrusAdapter{}
	transport := streamtransport.New(streamtransport.WithLogger(logAdapter))

	metricsReg := metrics.NewCollector(nil)
	observer := metrics.NewSessionObserver(metricsReg)

	layer, err := session.New(transport, cfg.Sessions.MaxSessions,
		session.WithLogger(logAdapter),
		session.WithMetrics(observer),
	)
	if err != nil {
		log.Fatalf("Failed to create session layer: %v", err)
	}

	hub := httpapi.NewHub()
	registerExampleResources(layer, hub, cfg.Resources)

	ln, err := net.Listen(cfg.Transport.Network, cfg.Transport.Address)
	if err != nil {
		log.Fatalf("Failed to listen on %s %s: %v", cfg.Transport.Network, cfg.Transport.Address, err)
	}

	httpServer := httpapi.New(cfg.HTTP.Port, layer, hub, Version)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	group.Go(func() error {
		if err := transport.Serve(ln, 0); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})
	group.Go(func() error {
		return httpServer.Run(gctx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("cisessiond exited with error: %v", err)
	}
}

// registerExampleResources wires up two illustrative resources so the
// public API has a realistic caller end-to-end: a Resource Manager
// stand-in and an Application Information stand-in that always accept,
// plus any statically configured resources from config.yaml. Real
// AI/CA/MMI/RM resource implementations are out of scope for the session
// layer itself.
func registerExampleResources(layer *session.Layer, hub *httpapi.Hub, configured []config.ResourceEntry) {
	rmResourceID := spdu.MKRID(1, 1, 1)
	aiResourceID := spdu.MKRID(2, 1, 1)

	layer.RegisterLookup(func(slotID uint8, resourceID uint32) (session.Decision, session.DataCallback) {
		if resourceID == rmResourceID {
			return session.DecisionOpen, func(slotID, connID uint8, sessionNb uint16, resourceID uint32, payload []byte) {
				log.Debugf("resource-manager: slot=%d session=%d payload=%d bytes", slotID, sessionNb, len(payload))
			}
		}
		if resourceID == aiResourceID {
			return session.DecisionOpen, func(slotID, connID uint8, sessionNb uint16, resourceID uint32, payload []byte) {
				log.Debugf("application-info: slot=%d session=%d payload=%d bytes", slotID, sessionNb, len(payload))
			}
		}
		for _, entry := range configured {
			if resourceID == spdu.MKRID(entry.Class, entry.Type, entry.Version) {
				return session.DecisionOpen, func(slotID, connID uint8, sessionNb uint16, resourceID uint32, payload []byte) {
					log.Debugf("%s: slot=%d session=%d payload=%d bytes", entry.Name, slotID, sessionNb, len(payload))
				}
			}
		}
		return session.DecisionNoResource, nil
	})

	layer.RegisterSessionCallback(func(reason session.LifecycleReason, slotID uint8, sessionNb uint16, resourceID uint32) int {
		hub.Record(reason, slotID, sessionNb, resourceID)
		log.Infof("session lifecycle: reason=%s slot=%d session=%d resource=0x%08X", reason, slotID, sessionNb, resourceID)
		return 0
	})
}
