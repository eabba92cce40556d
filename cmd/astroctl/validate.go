package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"AstroBot/ai/gpt"
	"AstroBot/bot/chat"
	"AstroBot/bot/chat/flow"
	"AstroBot/internal/locale"
	"AstroBot/internal/service/astro"
	"AstroBot/internal/service/registry"
)

var errInvalid = errors.New("validation failed")

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check flow closure and default-bundle coverage",
		Long: `Loads every flow and resource bundle the bot would load at startup and
reports dangling step references, unknown services and resource keys the
default language does not define.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}
}

// offlineRegistry registers every calculator without credentials so flows
// can reference them.
func offlineRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.New(log)
	reader := gpt.NewReader(func() string { return "" }, "", log)
	reg.MustRegister(astro.All(reader)...)
	reg.Seal()
	return reg
}

func runValidate(cmd *cobra.Command, opts *options) error {
	ctx := context.Background()
	log := opts.logger(cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	resolver := locale.NewResolver(locale.DirLoader{Dir: opts.localesDir}, opts.defaultLang, nil, log)
	if err := resolver.Refresh(ctx); err != nil {
		return fmt.Errorf("loading bundles from %s: %w", opts.localesDir, err)
	}
	if !resolver.DefaultLoaded() {
		return fmt.Errorf("%w: no %s bundle in %s", errInvalid, opts.defaultLang, opts.localesDir)
	}

	reg := offlineRegistry(log)
	repo := flow.NewRepository(flow.DirLoader{Dir: opts.flowsDir}, reg, opts.defaultFlow, log)
	if errs := repo.Check(ctx); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(out, "flow: %v\n", e)
		}
		return fmt.Errorf("%w: %d flow errors", errInvalid, len(errs))
	}
	if err := repo.Load(ctx); err != nil {
		return err
	}

	descriptors := reg.Descriptors()
	keys := append(repo.ResourceKeys(), chat.ResourceKeys(descriptors)...)
	for _, d := range descriptors {
		keys = append(keys, d.ResourceKeys()...)
	}
	missing := resolver.MissingDefault(keys)
	for _, k := range missing {
		fmt.Fprintf(out, "missing %s: %s\n", opts.defaultLang, k)
	}

	for _, lang := range resolver.Languages() {
		if lang == opts.defaultLang {
			continue
		}
		n := 0
		for _, k := range keys {
			if !resolver.Has(lang, k) {
				n++
			}
		}
		if n > 0 {
			fmt.Fprintf(out, "note: %s falls back to %s for %d keys\n", lang, opts.defaultLang, n)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %d keys missing from %s", errInvalid, len(missing), opts.defaultLang)
	}
	fmt.Fprintf(out, "ok: %d flows, %d languages, %d services\n", len(repo.Flows()), len(resolver.Languages()), reg.Len())
	return nil
}
