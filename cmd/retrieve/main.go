// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command retrieve indexes a repository and answers hybrid code retrieval
// queries from the command line or over HTTP.
//
//	retrieve index ./repo
//	retrieve graph import graph.json
//	retrieve search "validate token" --mode graph
//	retrieve serve --watch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieve/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieve/services/retrieve/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions is shared by every subcommand. cfg and logger are populated
// in PersistentPreRunE.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	jsonOutput bool

	cfg    config.ServiceConfig
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "retrieve",
		Short: "Graph-aware hybrid code retrieval",
		Long: `Index source files into a chunk store, import the code graph, and
rank chunks by lexical, vector, symbol, summary and graph relevance.

Configuration is read from --config (YAML). Environment overrides:
  RETRIEVE_DATA_DIR, RETRIEVE_WEAVIATE_URL, OPENAI_API_KEY,
  OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME, RETRIEVE_LOG_LEVEL`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger != nil {
				return opts.logger.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the configuration file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "",
		"Override data_dir from the configuration")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override the log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false,
		"Output as JSON for scripting")

	root.AddCommand(
		newServeCmd(opts),
		newSearchCmd(opts),
		newExplainCmd(opts),
		newGraphCmd(opts),
		newIndexCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		level, err := logging.ParseLevel(o.logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	}
	o.cfg = cfg
	o.logger = logging.New(cfg.Logging)
	slog.SetDefault(o.logger.Slog())
	return nil
}
