package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"lunarelay/pkg/channel"
	"lunarelay/pkg/channel/telegram"
	"lunarelay/pkg/config"
	"lunarelay/pkg/gateway"
	"lunarelay/pkg/metrics"
)

var publicURL string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram webhook gateway",
	Long:  "Serves the Telegram webhook endpoint together with health, readiness and metrics endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		return runGateway(cmd.Context(), false)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the gateway with Telegram long polling",
	Long:  "Pulls updates with getUpdates instead of receiving webhooks. Use it where no public URL is available.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		return runGateway(cmd.Context(), true)
	},
}

func init() {
	serveCmd.Flags().StringVar(&publicURL, "public-url", "", "register the webhook with Telegram at this public base URL on startup")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
}

func runGateway(ctx context.Context, poll bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, log, err := loadRuntime("cmd.gateway")
	if err != nil {
		return err
	}

	bot, err := telegram.NewBot(cfg.Channels.Telegram)
	if err != nil {
		return err
	}

	m := metrics.New()
	r, err := newRouter(cfg, telegram.NewSink(bot), m, log)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var adapter channel.Adapter
	if poll {
		if err := bot.DeleteWebhook(runCtx, &telego.DeleteWebhookParams{}); err != nil {
			log.Warn("Failed to remove webhook before polling", "error", err)
		}

		adapter, err = telegram.NewAdapter(bot, cfg.Channels.Telegram, log)
		if err != nil {
			return fmt.Errorf("configure telegram channel: %w", err)
		}
	} else if url := webhookURL(publicURL, cfg.Gateway.WebhookPath); url != "" {
		params := &telego.SetWebhookParams{URL: url, SecretToken: cfg.Channels.Telegram.WebhookSecret}
		if err := bot.SetWebhook(runCtx, params); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		log.Info("Webhook registered", "url", url)
	}

	svc, err := gateway.NewService(gateway.Options{
		Config:  cfg,
		Handle:  r.Handle,
		Metrics: m,
		Adapter: adapter,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway started", "mode", gatewayMode(poll), "text_backend", cfg.Backends.Text, "image_backend", cfg.Backends.Image)
	if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway runtime failed: %w", err)
	}
	return nil
}

// webhookURL joins a public base URL and the configured webhook path.
func webhookURL(base string, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}

	path = strings.TrimSpace(path)
	if path == "" {
		path = config.Defaults().Gateway.WebhookPath
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

func gatewayMode(poll bool) string {
	if poll {
		return "poll"
	}
	return "webhook"
}
