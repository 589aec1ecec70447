package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"fitsedit/internal/config"
	"fitsedit/internal/server"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

const defaultConfigFile = "~/.config/fitsedit/config.yaml"

var (
	flags = struct {
		ConfigFile string
		LogFile    string
		Verbose    int
		Version    bool
	}{}

	version = "(dev) v0.0.0"

	root = &cobra.Command{
		Use:   "fitsedit",
		Short: "fitsedit serves a FITS custom editor over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Version {
				fmt.Printf("fitsedit version %s\n", version)
				return nil
			}

			// stdout carries the protocol, so logs go to stderr or a file.
			var logPath *string
			if flags.LogFile != "" {
				path, err := homedir.Expand(flags.LogFile)
				if err != nil {
					return err
				}
				logPath = &path
			}
			commonlog.Configure(flags.Verbose, logPath)

			cfg, err := loadConfig(cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			commonlog.GetLogger("fitsedit").Infof("starting fitsedit %s", version)
			return server.NewServer(cfg, version, flags.Verbose > 2).RunStdio()
		},
	}
)

func init() {
	root.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", defaultConfigFile, "configuration file")
	root.PersistentFlags().StringVar(&flags.LogFile, "logfile", "", "path to log file")
	root.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "log verbosity, repeat for more")
	root.Flags().BoolVar(&flags.Version, "version", false, "print the version and exit")
}

// loadConfig reads the config file. A missing default file means defaults.
func loadConfig(explicit bool) (config.Config, error) {
	cfg, err := config.LoadFile(flags.ConfigFile)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Load(nil)
	}
	return config.Config{}, err
}

// Execute runs the root command. v is stamped in at build time.
func Execute(v string) {
	version = v
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
