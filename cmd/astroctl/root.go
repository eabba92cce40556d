package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"AstroBot/internal/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

type options struct {
	configPath  string
	flowsDir    string
	localesDir  string
	defaultLang string
	defaultFlow string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "astroctl",
		Short:         "Offline tooling for AstroBot flows and resource bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.applyConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "bot config file; supplies directory defaults")
	flags.StringVar(&opts.flowsDir, "flows", "resources/flows", "flow definitions directory")
	flags.StringVar(&opts.localesDir, "locales", "resources/locales", "resource bundle directory")
	flags.StringVar(&opts.defaultLang, "default-lang", "en", "default language")
	flags.StringVar(&opts.defaultFlow, "default-flow", "main", "default flow id")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newValidateCmd(opts), newServicesCmd(opts), newVersionCmd())
	return root
}

// applyConfig fills flags the user did not set from the config file.
func (o *options) applyConfig(cmd *cobra.Command) error {
	if o.configPath == "" {
		return nil
	}
	conf, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("flows") {
		o.flowsDir = conf.Flows.Dir
	}
	if !flags.Changed("locales") {
		o.localesDir = conf.Resources.Dir
	}
	if !flags.Changed("default-lang") {
		o.defaultLang = conf.Resources.DefaultLanguage
	}
	if !flags.Changed("default-flow") {
		o.defaultFlow = conf.Flows.DefaultFlow
	}
	return nil
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelError
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of astroctl",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("astroctl %s\n", Version)
		},
	}
}
