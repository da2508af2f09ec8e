// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRetrieve/services/retrieve"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval HTTP API",
		Long: `Serve the retrieval API under /v1/retrieve and Prometheus metrics under
/metrics. With --watch, file changes under ingest.root are applied while
serving. The graph snapshot is saved on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}

			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				_ = shutdownTelemetry(sctx)
			}()

			a, err := openApp(ctx, cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			handlers := retrieve.NewHandlers(a.engine).
				WithChunks(a.index).
				WithLogger(opts.logger.Component("http"))
			if a.weaviate != nil {
				handlers.WithProbe("weaviate", a.weaviate.Ready)
			}
			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      retrieve.NewRouter(cfg.Telemetry.ServiceName, handlers),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				opts.logger.Info("Serving retrieval API", "addr", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if watch {
				w, err := a.watcher("")
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})

			err = g.Wait()
			if saveErr := a.graph.Save(context.Background()); saveErr != nil {
				opts.logger.Error("Saving graph snapshot failed", "error", saveErr)
				err = errors.Join(err, saveErr)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Apply file changes under ingest.root while serving")
	return cmd
}
