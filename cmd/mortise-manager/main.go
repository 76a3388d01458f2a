// Command mortise-manager is the manager daemon: it boots the Manager
// Core on a dedicated goroutine, loads a default congestion-control
// object, registers its ring buffer, and serves the control socket
// until interrupted, mirroring mortise-manager/src/bin/manager.rs.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mortise-project/mortise-manager/pkg/config"
	"github.com/mortise-project/mortise-manager/pkg/ipc"
	"github.com/mortise-project/mortise-manager/pkg/manager"
	"github.com/mortise-project/mortise-manager/pkg/metrics"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/mortise-project/mortise-manager/pkg/sidecar"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var log = logrus.WithField("component", "cmd/mortise-manager")

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	if err := raiseRlimits(cfg); err != nil {
		log.WithError(err).Warn("failed to raise resource limits, continuing anyway")
	}

	m := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, m)
	}

	link, err := sidecar.Dial(cfg.SidecarSocketPath, cfg.SidecarQueueDepth)
	if err != nil {
		log.WithError(err).Warn("failed to connect to analytics sidecar, continuing without it")
		link = nil
	}

	mgr := manager.New()
	mgr.SetMetrics(m)
	if link != nil {
		mgr.SetReporter(link)
	}

	reqs := make(chan manager.Request, cfg.RequestQueueDepth)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Run(ctx, reqs, sidecarOrNil(link))
	}()

	loadDefaultObjects(reqs, cfg)

	sockPath := cfg.ControlSocketPath
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		log.WithError(err).Fatal("failed to bind control socket")
	}
	if err := os.Chmod(sockPath, 0o666); err != nil {
		log.WithError(err).Fatal("failed to chmod control socket")
	}
	log.WithField("path", sockPath).Info("control socket ready")

	broker := ipc.NewBroker(reqs, m)
	serveErr := make(chan error, 1)
	go func() { serveErr <- broker.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Warn("gracefully shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("control socket listener failed")
		}
	}

	_ = ln.Close()
	reply := make(chan protocol.Response, 1)
	reqs <- manager.Request{Op: protocol.Operation{Manager: protocol.ShutdownOp{}}, Reply: reply}
	<-reply
	cancel()
	<-done
	_ = os.Remove(sockPath)
	log.Info("shutdown finished")
}

func sidecarOrNil(link *sidecar.Link) manager.Sidecar {
	if link == nil {
		return nil
	}
	return link
}

// raiseRlimits sets RLIMIT_MEMLOCK to cfg.MemlockLimitMB megabytes and
// RLIMIT_NOFILE to cfg.NofileLimit, the way
// bump_memlock_rlimit/bump_nofile_rlimit do.
func raiseRlimits(cfg *config.Config) error {
	memlock := uint64(cfg.MemlockLimitMB) << 20
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{Cur: memlock, Max: memlock}); err != nil {
		return err
	}
	limit := &unix.Rlimit{Cur: cfg.NofileLimit, Max: cfg.NofileLimit}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, limit)
}

// loadDefaultObjects loads the boot-time default CCA object and
// registers its ring buffer, mirroring manager.rs's ca_list loop
// (currently a single entry, mortise_copa) and its RegisterRingBuf for
// obj_id 1. The object is loaded with mortise_copa's ConnectOption
// (get_load_option) so its mim_rtt/mim_increase scratch maps are wired
// on every flow that connects against it.
func loadDefaultObjects(reqs chan manager.Request, cfg *config.Config) {
	reply := make(chan protocol.Response, 1)
	reqs <- manager.Request{
		Op: protocol.Operation{Manager: protocol.InsertOp{
			ObjID:  cfg.DefaultObjectID,
			Path:   cfg.DefaultObjectPath,
			Option: cfg.DefaultConnectOption(),
		}},
		Reply: reply,
	}
	resp := <-reply
	if resp.IsErr {
		log.WithField("error", resp.Err).Error("failed to load default object")
		return
	}

	rbReply := make(chan protocol.Response, 1)
	reqs <- manager.Request{
		Op: protocol.Operation{Manager: protocol.RegisterRingBufOp{
			ObjIDs: []uint32{cfg.DefaultObjectID},
		}},
		Reply: rbReply,
	}
	if resp := <-rbReply; resp.IsErr {
		log.WithField("error", resp.Err).Error("failed to register ring buffer")
	}
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server stopped")
	}
}
