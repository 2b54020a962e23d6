/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ugamusic/distro/api"
	"github.com/ugamusic/distro/config"
	trace "github.com/ugamusic/distro/internal/traces"
)

const (
	certStoragePath   = "./certmagic"
	heartbeatInterval = 5 * time.Minute
	shutdownTimeout   = 15 * time.Second
)

// tlsServer builds an HTTPS server whose certificates are managed by
// CertMagic. Without a domain the certificate is issued for localhost.
func tlsServer(ctx context.Context, handler http.Handler, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: certStoragePath}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		logrus.Warn("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   handler,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

// sendHeartbeat reports an anonymous liveness event to PostHog until ctx ends.
func sendHeartbeat(ctx context.Context, client posthog.Client, heartbeatID, process string) {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Enqueue(posthog.Capture{
					DistinctId: heartbeatID,
					Event:      "server_heartbeat",
					Properties: map[string]interface{}{
						"process":   process,
						"timestamp": time.Now().UTC(),
					},
				}); err != nil {
					logrus.Warnf("Failed to send heartbeat: %v", err)
				}
			}
		}
	}()
}

func initializePostHog(ctx context.Context, cfg *config.Configuration, process string) posthog.Client {
	if cfg.PostHogKey == "" {
		return nil
	}
	client, err := posthog.NewWithConfig(cfg.PostHogKey, posthog.Config{Endpoint: "https://us.i.posthog.com"})
	if err != nil {
		logrus.Warnf("PostHog disabled: %v", err)
		return nil
	}
	sendHeartbeat(ctx, client, uuid.New().String(), process)
	return client
}

// initializeObservability starts tracing and the telemetry heartbeat when
// telemetry is enabled. The returned function releases both.
func initializeObservability(ctx context.Context, cfg *config.Configuration, process string) (func(context.Context), error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) {}, nil
	}

	shutdown, err := trace.SetupOTelSDK(ctx, cfg.ProjectName, cfg.OtelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	phClient := initializePostHog(ctx, cfg, process)

	return func(ctx context.Context) {
		if err := shutdown(ctx); err != nil {
			logrus.Errorf("Error during tracing shutdown: %v", err)
		}
		if phClient != nil {
			_ = phClient.Close()
		}
	}, nil
}

// runServer serves handler until ctx is cancelled, then drains in-flight
// requests.
func runServer(ctx context.Context, handler http.Handler, conf config.ServerConfig) error {
	var (
		server *http.Server
		err    error
	)
	if conf.SSL {
		server, err = tlsServer(ctx, handler, conf)
		if err != nil {
			return err
		}
	} else {
		server = &http.Server{Addr: ":" + conf.Port, Handler: handler}
	}

	errCh := make(chan error, 1)
	go func() {
		if conf.SSL {
			logrus.Infof("Starting HTTPS server on %s", conf.Port)
			errCh <- server.ListenAndServeTLS("", "")
			return
		}
		logrus.Infof("Starting server on http://localhost:%s", conf.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands returns the `start` command, which serves the HTTP API.
func serverCommands(d *distroInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start distro server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer func() { _ = d.distro.Close() }()

			shutdown, err := initializeObservability(ctx, d.cnf, "server")
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			if err := d.distro.EnsureSearchCollections(ctx); err != nil {
				logrus.Errorf("TypeSense initialization error: %v", err)
			}

			router := api.NewAPI(d.distro, d.cnf).Router()
			return runServer(ctx, router, d.cnf.Server)
		},
	}

	return cmd
}
