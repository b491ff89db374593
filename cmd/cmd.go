package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/urfave/cli/v2"
)

const (
	ServiceName      = "friend-monitor-server"
	ServiceNamespace = "osrs"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Shares live locations and activity between mutual friends",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
			versionCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the HTTP, websocket and queue workers",
		ArgsUsage: "[--key=value overrides]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SHUTTING_DOWN")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := c.App.Writer.Write([]byte(
				"version: " + version + "\ncommit: " + commit + "\ncommit date: " + commitDate +
					"\nbranch: " + branch + "\nbuilt: " + buildTimestamp + "\n"))
			return err
		},
	}
}
