package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
)

// SweepCmd deletes expired sessions once. It is meant for cron jobs when the
// request-driven sweep is not enough.
type SweepCmd struct {
	Timeout time.Duration `help:"Abort the sweep after this long." default:"1m"`
}

func (c *SweepCmd) Run(globals *Globals) error {
	log, err := globals.setup()
	if err != nil {
		return err
	}
	if globals.Config.Store != "postgres" {
		return errPostgresOnly
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	users, _, closeStore, err := openUserStore(ctx, globals.Config, false)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	defer closeStore()

	n, err := auth.NewSessions(users, globals.Config.Session.TTL).SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	log.Info().Int64("deleted", n).Msg("Expired sessions swept")
	fmt.Fprintf(os.Stdout, "deleted %d expired sessions\n", n)
	return nil
}
