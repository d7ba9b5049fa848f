// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command botvisord serves the bot control panel API.  Bots it starts run
// in their own process groups, but their output goes through pipes the
// daemon reads, so a bot that writes anything dies with SIGPIPE once the
// daemon is gone.  Bots still running when a daemon starts are picked up
// from the storage directory.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/netutil"

	"github.com/gdamore/botvisor"
	"github.com/gdamore/botvisor/rest"
)

const shutdownTime = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "botvisord",
		Short:         "Serve the bot control panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal.
			_ = godotenv.Load()

			cfg, err := loadConfig(viper.New(), cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	addFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config) error {
	log, closer, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	m, err := botvisor.NewManager(cfg.managerConfig())
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	m.SetLogger(log)

	// Reconcile everything once, so state left by a previous run is
	// settled before the first request.
	if bots, err := m.Bots(); err != nil {
		log.WithError(err).Warn("Initial scan failed")
	} else {
		running := 0
		for _, b := range bots {
			if b.Running() {
				running++
			}
		}
		log.WithFields(logrus.Fields{
			"bots":    len(bots),
			"running": running,
			"storage": m.Registry().Root(),
		}).Info("Storage loaded")
	}

	publicDir := cfg.PublicDir
	if publicDir != "" {
		if st, err := os.Stat(publicDir); err != nil || !st.IsDir() {
			log.WithField("dir", publicDir).Warn("Dashboard directory missing, not serving static files")
			publicDir = ""
		}
	}
	h := rest.NewHandler(m, publicDir)
	h.SetLogger(log)

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Listen)
	}
	if cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", l.Addr().String()).Info("Listening")
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTime)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "botvisord: %v\n", err)
		os.Exit(1)
	}
}
