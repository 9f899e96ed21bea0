package config

import (
	"github.com/spf13/cobra"
)

// NewServeCommand builds the "inferlb serve" cobra command. run is
// invoked with the fully validated Config once flags parse and
// Build succeeds.
func NewServeCommand(run func(Config) error) *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inference load balancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts.TimeoutSet = flags.Changed("timeout")
			opts.TimeoutFTSet = flags.Changed("timeout-ft")
			opts.TimeMeasureSet = flags.Changed("time-measure")

			cfg, err := Build(opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Listen, "listen", "l", "", "listen address (default 0.0.0.0:11434)")
	flags.StringVar(&opts.AdminListen, "admin-listen", "", "admin API listen address (default :9434)")
	flags.StringArrayVarP(&opts.BackendSpecs, "backend", "s", nil, "backend spec addr=Name, repeatable")
	flags.StringVar(&opts.BackendFile, "file", "", "path to a newline-delimited addr=Name backend list")
	flags.StringVar(&opts.SettingsFile, "config", "", "path to an optional YAML settings file")
	flags.IntVarP(&opts.TimeoutSec, "timeout", "t", 30, "connect timeout in seconds (0 disables)")
	flags.IntVar(&opts.TimeoutFTSec, "timeout-ft", 5, "per-read idle timeout in seconds (0 disables)")
	flags.IntVar(&opts.TimeMeasureS, "time-measure", 10, "measurement window in seconds for racing dispatch")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	flags.StringVar(&opts.LogOutput, "log-output", "", "log output: stdout, stderr, or a file path (default stdout)")

	return cmd
}

// NewRootCommand builds the root "inferlb" command with serve attached.
func NewRootCommand(run func(Config) error) *cobra.Command {
	root := &cobra.Command{
		Use:   "inferlb",
		Short: "A reverse-proxying load balancer for Ollama-compatible backends",
	}
	root.AddCommand(NewServeCommand(run))
	return root
}
