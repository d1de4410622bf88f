package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installer"
	"github.com/osbuild/installer-core/internal/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish the installer modules on the bus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

// busListeners returns the sockets passed by systemd or, without socket
// activation, listens on the configured socket and address.
func busListeners() ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("could not get listening sockets: %v", err)
	}
	if len(listeners) > 0 {
		logrus.Infof("using %d activated sockets", len(listeners))
		return listeners, nil
	}

	if socket := config.Bus.Socket; socket != "" {
		if err := os.MkdirAll(filepath.Dir(socket), 0755); err != nil {
			return nil, err
		}
		if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		l, err := net.Listen("unix", socket)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	if addr := config.Bus.Listen; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	if len(listeners) == 0 {
		return nil, errors.New("no bus socket configured")
	}
	return listeners, nil
}

// readBootKickstart reads the kickstart named on the boot command line.
func readBootKickstart(inst *installer.Installer, text string) error {
	report := inst.ReadKickstart(text)
	for _, w := range report.WarningMessages {
		logrus.Warnf("kickstart: %s", w)
	}
	return report.Err()
}

func serve(ctx context.Context) error {
	env := newEnv(ctx)
	inst, err := newInstaller(ctx, env)
	if err != nil {
		return err
	}

	var ks string
	if location := env.Flags.Kickstart; location != "" {
		ks, err = fetchKickstart(ctx, location)
		if err != nil {
			return err
		}
	}

	err = env.Loop.Call(ctx, func(context.Context) error {
		inst.Publish()
		if ks != "" {
			if err := readBootKickstart(inst, ks); err != nil {
				return err
			}
		}
		if _, err := inst.StartGeolocation(ctx); err != nil {
			logrus.Warnf("cannot start geolocation: %v", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	listeners, err := busListeners()
	if err != nil {
		return err
	}
	server := bus.NewServer(env.Registry)
	errs := make(chan error, len(listeners)+1)
	for _, l := range listeners {
		logrus.Infof("bus listening on %s", l.Addr())
		go func(l net.Listener) {
			errs <- server.Serve(l)
		}(l)
	}

	var metrics *http.Server
	if addr := config.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prometheus.Handler())
		metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err = <-errs:
		logrus.Errorf("server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Orchestrator.CancelTimeout)
	defer cancel()
	if inst.Status().State == common.RunRunning {
		_ = inst.CancelInstallation()
		if _, werr := inst.Orchestrator().Wait(shutdownCtx); werr != nil {
			logrus.Warnf("installation did not stop: %v", werr)
		}
	}
	if metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}
	if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
