package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dudu/deepswap/internal/cloud"
	"github.com/dudu/deepswap/internal/jobs"
	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/server"
	"github.com/dudu/deepswap/internal/video"
)

const shutdownTimeout = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /detect-video and /swap-video backed by Cloud Storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		if err := video.Available(); err != nil {
			return err
		}

		ctx := cmd.Context()
		bucket, err := cloud.NewBucket(ctx, cfg.Bucket)
		if err != nil {
			return err
		}

		flagNoBar = true
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		srv := server.New(&jobs.Remote{Engine: engine, Storage: bucket, WorkDir: cfg.WorkDir})
		go func() {
			<-ctx.Done()
			log.Info("shutting down server")
			if err := srv.Shutdown(shutdownTimeout); err != nil {
				log.Error("server shutdown failed", "error", err)
			}
		}()
		return srv.Listen(cfg.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from DEEPSWAP_LISTEN or :80)")
	rootCmd.AddCommand(serveCmd)
}
