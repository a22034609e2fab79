package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xslttester/internal/config"
	"xslttester/internal/logging"
)

const defaultConfigFile = "xslttester.yml"

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "xslttester",
		Short: "Try XSLT stylesheets against XML documents",
		Long: `xslttester prettifies XML and runs XSLT 1.0 stylesheets over it, either
in-process or against a remote tester started with "xslttester serve".

Configuration comes from xslttester.yml (or --config, or XSLTTESTER_CONFIG)
overlaid with XSLTTESTER__<SECTION>__<KEY> environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default xslttester.yml, or XSLTTESTER_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newPrettifyCmd(opts),
		newTransformCmd(opts),
		newSamplesCmd(),
		newServeCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv("XSLTTESTER_CONFIG")
	}
	if path == "" {
		path = defaultConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: cmd.ErrOrStderr()})
	o.cfg = cfg
	return nil
}

// parseParams turns repeated k=v flags into stylesheet parameters.
func parseParams(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q (want name=value)", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
