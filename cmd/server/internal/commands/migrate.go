package commands

import (
	"context"
	"fmt"
)

// MigrateCmd applies pending database migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(globals *Globals) error {
	log, err := globals.setup()
	if err != nil {
		return err
	}
	if globals.Config.Store != "postgres" {
		return errPostgresOnly
	}

	_, _, closeStore, err := openUserStore(context.Background(), globals.Config, true)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer closeStore()

	log.Info().Msg("Database migrations completed")
	return nil
}
