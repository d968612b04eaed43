package main

import (
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haricheung/nbscore/internal/config"
	"github.com/haricheung/nbscore/internal/httpapi"
	"github.com/haricheung/nbscore/internal/service"
	"github.com/haricheung/nbscore/internal/visits"
)

func serveCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculation API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("http", false)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Addr
			}

			vl, err := visits.Open(filepath.Join(a.cfg.DataDir, visitsFile))
			if err != nil {
				return err
			}
			defer vl.Close()

			srv := httpapi.New(a.svc, vl, a.cfg.RateLimitRPM, a.cfg.RateLimitBurst)

			if watch && a.cfg.Path != "" {
				w, err := config.NewWatcher(a.cfg.Path)
				if err != nil {
					return err
				}
				w.OnChange(func(cfg *config.Config) {
					set, err := service.SettingsFrom(cfg)
					if err != nil {
						log.Printf("[MAIN] config reload ignored: %v", err)
						return
					}
					a.svc.Apply(set)
					srv.SetRateLimit(cfg.RateLimitRPM, cfg.RateLimitBurst)
				})
				if err := w.Start(); err != nil {
					return err
				}
				defer w.Stop()
			}

			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload settings when the config file changes")
	return cmd
}
