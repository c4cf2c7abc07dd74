package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/emotiongo/config"
	log "github.com/sirupsen/logrus"
	cli "github.com/spf13/cobra"
)

var (
	rootCmd = &cli.Command{
		Use:   "emotiongo",
		Short: "Detect faces and recognize their emotions in images, camera feeds and videos",
		// Without a subcommand the user picks the mode interactively.
		RunE: func(cmd *cli.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.menu(cmd.Context(), os.Stdin, os.Stdout)
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("headless", false, "Do not open any window")
	rootCmd.PersistentFlags().String("db", "", "SQLite file to record runs in")

	rootCmd.AddCommand(imageCmd, cameraCmd, videoCmd, serveCmd, ingestCmd)
}

// loadConfig reads the config file and lets explicitly set flags win.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug, _ = cmd.Flags().GetBool("debug")
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if cmd.Flags().Changed("db") {
		cfg.SQLiteFile, _ = cmd.Flags().GetString("db")
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalln("ERROR:", err)
	}
}
