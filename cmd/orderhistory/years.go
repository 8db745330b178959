package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-order-history/config"
	"github.com/aluiziolira/go-order-history/scraper"
	"github.com/aluiziolira/go-order-history/session"
)

func yearsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "years",
		Short: "List the years available in the order history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(v)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runYears(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runYears(ctx context.Context, cfg *config.Config, out io.Writer) error {
	b, err := openBrowser(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("close browser", slog.Any("error", err))
		}
	}()

	sess := session.New(b, session.Credentials{Email: cfg.Email, Password: cfg.Password}, session.DefaultLayout(cfg.BaseURL))
	s := scraper.New(b, sess, scraper.WithLayout(layoutFor(cfg)))

	years, err := s.AvailableYears(ctx)
	if err != nil {
		return fmt.Errorf("list years: %w", err)
	}
	if greeting, err := sess.Greeting(ctx); err == nil {
		slog.Info("signed in", slog.String("greeting", greeting))
	}
	for _, year := range years {
		fmt.Fprintln(out, year)
	}
	return nil
}
