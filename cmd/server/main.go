package main

import (
	"github.com/alecthomas/kong"

	"github.com/ayush/recipe-assistant/backend/cmd/server/internal/commands"
	"github.com/ayush/recipe-assistant/backend/internal/config"
)

var (
	version = "dev"
	cli     struct {
		ConfigFile kong.ConfigFlag  `name:"config" help:"Load settings from a YAML file." env:"CONFIG_FILE"`
		Version    kong.VersionFlag `help:"Print version and exit."`
		Config     config.Config    `embed:""`

		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Start the HTTP server."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
		Sweep   commands.SweepCmd   `cmd:"" help:"Delete expired sessions once and exit."`
	}
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("recipe-assistant"),
		kong.Description("Recipe assistant backend."),
		kong.Configuration(config.YAML),
		kong.Vars{
			"version": version,
		})
	err := ctx.Run(&commands.Globals{Config: &cli.Config, Version: version})
	ctx.FatalIfErrorf(err)
}
