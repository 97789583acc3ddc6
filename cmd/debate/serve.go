package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"debate_simulator/internal/server"
)

func GetServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Addr()
			}
			return runServe(a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.host:server.port)")
	return cmd
}

func runServe(a *app, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	manager := a.newManager(st, a.managerOptions())
	defer manager.Close()

	if a.cfg.LLM.APIKey == "" {
		a.log.Warn("No API key configured; set one via PUT /api/settings/api-key")
	} else {
		a.log.WithField("provider", a.cfg.LLM.Provider).WithField("model", a.cfg.LLM.Model).Info("Language model configured")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(manager, a.log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", addr).Info("Server starting")
		a.log.Infof("Frontend WebSocket: ws://%s/ws?debate_id=<id>", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
