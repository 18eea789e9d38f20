package ctl

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/metta/internal/redisx"
	"github.com/dmitrijs2005/metta/internal/server/pubsub"
	"github.com/spf13/cobra"
)

func (a *App) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "watch",
		Short:       "Print identity-changed events (sign-in, sign-out, password reset) as JSON lines",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.RedisURL == "" {
				return fmt.Errorf("--redis or METTA_REDIS_URL is required")
			}
			ctx := cmd.Context()

			rdb, err := redisx.Open(ctx, a.cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			events := pubsub.Subscribe(ctx, rdb, func(payload string, err error) {
				a.log.Warn(ctx, "ignoring malformed event", "payload", payload, "error", err)
			})

			enc := json.NewEncoder(a.out)
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.cfg.RedisURL, "redis", a.cfg.RedisURL, "Redis URL")
	return cmd
}
