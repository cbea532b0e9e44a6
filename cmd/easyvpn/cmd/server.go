package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/easyvpn/easyvpn/api"
	"github.com/easyvpn/easyvpn/auth"
	"github.com/easyvpn/easyvpn/fleet"
	"github.com/easyvpn/easyvpn/internal/config"
	"github.com/easyvpn/easyvpn/mgmt"
	"github.com/easyvpn/easyvpn/pki"
	"github.com/easyvpn/easyvpn/profile"
	"github.com/easyvpn/easyvpn/token"
)

var (
	port       int
	configFile string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the credential service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if err := os.MkdirAll(cfg.ArchiveDir(), 0o700); err != nil {
			return fmt.Errorf("creating archive directory: %w", err)
		}

		opts := []api.Option{api.WithLogger(logger)}
		if cfg.AuditDBPath != "" {
			store, err := api.NewAuditStore(cfg.AuditDBPath)
			if err != nil {
				return fmt.Errorf("opening audit store: %w", err)
			}
			defer store.Close()
			opts = append(opts, api.WithAuditStore(store))
		}

		tokens := token.NewCodec(cfg.Secret(), cfg.TokenMaxAge)
		admin := auth.NewVerifier(cfg.AdminUser, cfg.AdminPass, cfg.Secret(), cfg.SessionTTL)

		packager := profile.NewPackager(cfg.ArchiveDir(), profile.SevenZip{}, logger)
		certs := pki.NewStore(cfg.EasyRSADir(), cfg.ServerCertName, pki.ExecRunner{}, packager, logger)
		daemon := mgmt.NewClient(cfg.ManagementSocket(), cfg.ReloadTimeout)

		manager := fleet.NewManager(tokens, certs, packager, daemon, profile.ConnectionParams{
			Hostname:       cfg.Hostname,
			Port:           cfg.VPNPort,
			ServerCertName: cfg.ServerCertName,
		}, cfg.ExternalURL, logger)

		a := api.New(tokens, admin, manager, certs, daemon, packager, opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		useTLS := cfg.TLSCert != "" && cfg.TLSKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("loading TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			logger.Warn("no TLS key pair configured, serving plain HTTP")
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (openvpn: %s)...\n", port, cfg.OpenVPNDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")
}
