// Command infod is the infod3 daemon: it opens the store, binds whichever
// listeners are configured, and hands them to the single-threaded poll
// loop (spec §4.C, §5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/infod3/infod/internal/config"
	"github.com/infod3/infod/internal/mux"
	"github.com/infod3/infod/internal/session"
	"github.com/infod3/infod/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	overrides, flagsSet, configPath, err := config.ParseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "infod:", err)
		return 1
	}

	cfg, err := config.Load(configPath, overrides, flagsSet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "infod:", err)
		return 1
	}

	log := config.BuildLogger(cfg)
	defer func() { _ = log.Sync() }()
	log = log.Named("main")

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Error("store open failed", zap.String("path", cfg.StorePath), zap.Error(err))
		return 1
	}
	defer func() { _ = st.Close() }()

	mgr := session.NewManager(st, log)

	m := mux.New(&mux.Context{
		MaxSockets:      cfg.MaxSockets,
		OnAccept:        mgr.OnAccept,
		OnReady:         mgr.OnReady,
		OnClose:         mgr.OnClose,
		OnListenerClose: func(*mux.Mux, any) {},
		OnError:         mgr.OnError,
	})

	listeners, err := bindListeners(cfg, m)
	if err != nil {
		log.Error("listener bind failed", zap.Error(err))
		return 1
	}
	log.Info("infod3 listening", zap.Int("listeners", listeners))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return serve(ctx, m, log)
}

// bindListeners binds every configured listener concurrently, since
// binding is I/O-bound startup work and does not itself touch the
// single-threaded poll loop (spec DOMAIN STACK "golang.org/x/sync/errgroup").
// It returns the count of listeners successfully registered with m.
func bindListeners(cfg config.Config, m *mux.Mux) (int, error) {
	var g errgroup.Group
	var tcp4Fd, tcp6Fd, unixFd int = -1, -1, -1

	if cfg.TCPAddr != "" {
		g.Go(func() error {
			fd, err := bindTCP(cfg.TCPAddr, unix.AF_INET)
			tcp4Fd = fd
			return err
		})
		g.Go(func() error {
			fd, err := bindTCP(cfg.TCPAddr, unix.AF_INET6)
			tcp6Fd = fd
			return err
		})
	}
	if cfg.UnixPath != "" {
		g.Go(func() error {
			fd, err := bindUnixSeqpacket(cfg.UnixPath)
			unixFd = fd
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	if tcp4Fd >= 0 {
		if err := m.AddListener(tcp4Fd, session.KindStream); err != nil {
			return n, err
		}
		n++
	}
	if tcp6Fd >= 0 {
		if err := m.AddListener(tcp6Fd, session.KindStream); err != nil {
			return n, err
		}
		n++
	}
	if unixFd >= 0 {
		if err := m.AddListener(unixFd, session.KindFramed); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// serve runs the poll loop until ctx is cancelled (spec §5 "SIGTERM and
// SIGINT set a termination flag; the next loop iteration observes it and
// exits cleanly").
func serve(ctx context.Context, m *mux.Mux, log *zap.Logger) int {
	defer m.Free()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return 0
		default:
		}

		if _, err := m.Poll(-1); err != nil {
			log.Error("poll failed", zap.Error(err))
			return 1
		}
	}
}
