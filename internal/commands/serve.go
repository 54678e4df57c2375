package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/api"
)

func newServeCommand(repoDir *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled bank syncs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), *repoDir, func(p *project) error {
				if addr == "" {
					addr = p.cfg.Server.Addr
				}
				return serve(cmd.Context(), p, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from envelopes.yaml)")
	return cmd
}

// scheduleSync starts periodic syncs of every connection. The returned
// cron is nil when no schedule is configured.
func scheduleSync(ctx context.Context, p *project) (*cron.Cron, error) {
	if p.cfg.Sync.Schedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(p.cfg.Sync.Schedule, func() {
		results, err := p.eng.SyncAll(ctx)
		if err != nil {
			p.log.WithError(err).Warn("scheduled sync failed")
		}
		if len(results) == 0 {
			return
		}
		if err := p.save(ctx, fmt.Sprintf("sync: scheduled, %d connection(s)", len(results))); err != nil {
			p.log.WithError(err).Error("saving after scheduled sync")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sync.schedule %q: %w", p.cfg.Sync.Schedule, err)
	}
	c.Start()
	p.log.WithField("schedule", p.cfg.Sync.Schedule).Info("scheduled bank sync")
	return c, nil
}

func serve(ctx context.Context, p *project, addr string) error {
	sched, err := scheduleSync(ctx, p)
	if err != nil {
		return err
	}
	if sched != nil {
		defer func() { <-sched.Stop().Done() }()
	}

	handler := api.New(p.eng, p.cfg.UserID, p.log, p.save).Handler()
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		p.log.Infof("Starting server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
