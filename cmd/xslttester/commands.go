package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"xslttester/internal/config"
	"xslttester/internal/engine"
	"xslttester/internal/samples"
	"xslttester/internal/task"
	"xslttester/internal/transform"
	"xslttester/internal/transport"
	"xslttester/internal/workbench"
	"xslttester/sink"
)

var errFailed = errors.New("transform failed")

func newPrettifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prettify [file|-]",
		Short: "Re-indent an XML document (the bundled sample when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text *string
			if len(args) == 1 {
				s, err := readInput(cmd, args[0])
				if err != nil {
					return err
				}
				text = &s
			}
			_, err := runWorkbench(cmd, opts.cfg, nil, func(wb *workbench.Workbench) {
				if text != nil {
					wb.XML.SetText(*text)
				}
				wb.Prettify(wb.XML)
			})
			return err
		},
	}
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	var (
		xmlPath, xslPath, remote string
		rawParams                []string
	)
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Run a stylesheet over a document and print the result or its diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			var xml, xsl *string
			if xmlPath != "" {
				s, err := readInput(cmd, xmlPath)
				if err != nil {
					return err
				}
				xml = &s
			}
			if xslPath != "" {
				s, err := readInput(cmd, xslPath)
				if err != nil {
					return err
				}
				xsl = &s
			}
			cfg := opts.cfg
			if remote != "" {
				cfg.Transform.Remote = remote
			}
			res, err := runWorkbench(cmd, cfg, params, func(wb *workbench.Workbench) {
				if xml != nil {
					wb.XML.SetText(*xml)
				}
				if xsl != nil {
					wb.XSLT.SetText(*xsl)
				}
				wb.Transform()
			})
			if err != nil {
				return err
			}
			if res.Failed {
				return errFailed
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&xmlPath, "xml", "", "XML document (file or -; default bundled sample)")
	f.StringVar(&xslPath, "xsl", "", "XSLT stylesheet (file or -; default bundled sample)")
	f.StringArrayVarP(&rawParams, "param", "p", nil, "stylesheet parameter name=value (repeatable)")
	f.StringVar(&remote, "remote", "", "address of an xslttester serve instance")
	return cmd
}

func newSamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "samples [xml|xsl]",
		Short:     "Print the bundled sample document and stylesheet",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"xml", "xsl"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			which := ""
			if len(args) == 1 {
				which = args[0]
			}
			if which != "xsl" {
				fmt.Fprint(out, samples.XML())
			}
			if which != "xml" {
				fmt.Fprint(out, samples.XSLT())
			}
			return nil
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Tester gRPC service and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printConfig {
				return config.Dump(cmd.OutOrStdout(), opts.cfg)
			}
			e, err := engine.Bootstrap(cmd.Context(), opts.cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			return e.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	return cmd
}

// runWorkbench drives one workbench action on a fresh UI loop and returns
// the result it produced. Results are printed by the configured sinks; the
// stdout sink writes to the command's output.
func runWorkbench(cmd *cobra.Command, cfg config.Config, params map[string]any, act func(*workbench.Workbench)) (sink.Result, error) {
	client, err := newClient(cfg)
	if err != nil {
		return sink.Result{}, err
	}
	cfg.SinkConfigs.Stdout.Out = cmd.OutOrStdout()
	sinks, err := workbench.BuildSinks(cfg)
	if err != nil {
		_ = client.Close()
		return sink.Result{}, err
	}

	loop := task.NewLoop()
	var res sink.Result
	wb := workbench.New(loop, client,
		workbench.WithSinks(sinks...),
		workbench.WithParams(params),
		workbench.OnResult(func(r sink.Result) {
			res = r
			loop.Close()
		}),
	)
	defer wb.Close()

	ctx := cmd.Context()
	stop := context.AfterFunc(ctx, func() { loop.Post(wb.Interrupt) })
	defer stop()

	loop.Post(func() { act(wb) })
	if err := loop.Run(context.WithoutCancel(ctx)); err != nil {
		return res, err
	}
	return res, ctx.Err()
}

func newClient(cfg config.Config) (transform.Client, error) {
	if cfg.Transform.Remote != "" {
		c, err := transport.Dial(cfg.Transform.Remote)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Transform.Remote, err)
		}
		return c, nil
	}
	return transform.NewInProcessClient(transform.New(transform.WithTimeout(cfg.Transform.Timeout))), nil
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		r = f
	}
	return transform.ReadAllText(r), nil
}
