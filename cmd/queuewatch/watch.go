package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/auth"
	"github.com/queueless/queuewatch/internal/session"
	"github.com/queueless/queuewatch/internal/ui"
)

func watchCmd() *cobra.Command {
	var debugAddr string

	cmd := &cobra.Command{
		Use:   "watch <queue-id>",
		Short: "Open the live dashboard for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID := args[0]

			creds, err := auth.Open(cfg.State.File)
			if err != nil {
				return err
			}

			sess := session.New(cfg, creds, logger)
			if err := sess.Start(cmd.Context()); err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.WatchQueue(cmd.Context(), queueID); err != nil {
				logger.Warn("initial queue fetch failed, dashboard starts empty",
					zap.String("queueID", queueID),
					zap.Error(err),
				)
			}

			if debugAddr != "" {
				go serveDebug(debugAddr, sess)
			}

			return ui.Run(ui.Options{
				Session: sess,
				QueueID: queueID,
				Logger:  logger,
			})
		},
	}

	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "serve state and metrics on this address (e.g. :9180)")
	return cmd
}

// serveDebug exposes session state and Prometheus metrics for inspection
// while the TUI owns the terminal.
func serveDebug(addr string, sess *session.Session) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"state":     sess.State().String(),
			"userId":    sess.UserID(),
			"anomalies": sess.Store().Anomalies(),
		})
	})

	r.Get("/queues", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, sess.Queues())
	})

	r.Get("/queues/{queueID}", func(w http.ResponseWriter, req *http.Request) {
		q, ok := sess.Queue(chi.URLParam(req, "queueID"))
		if !ok {
			http.Error(w, "unknown queue", http.StatusNotFound)
			return
		}
		writeJSON(w, q)
	})

	r.Handle("/metrics", promhttp.Handler())

	logger.Info("debug endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("debug endpoint stopped", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("writing debug response failed", zap.Error(err))
	}
}
