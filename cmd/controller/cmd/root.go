package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/internet-gateway/internal/config"
	"github.com/lexfrei/internet-gateway/internal/controller"
	"github.com/lexfrei/internet-gateway/internal/logging"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "internet-gateway",
	Short: "Publish annotated Kubernetes Services to the internet",
	Long: `A Kubernetes controller that watches Services annotated with internet-gateway/*
and maintains Cloudflare A records and a cert-manager secured nginx Ingress for them.`,
	RunE:          runController,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultOptions()

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatJSON, "Log format (json, text)")

	rootCmd.Flags().String("cloudflare-api-key", "", "Cloudflare API token (or use CLOUDFLARE_API_KEY env var)")
	rootCmd.Flags().String("cloudflare-secret", "", "Secret holding the Cloudflare API token, as namespace/name")
	rootCmd.Flags().String("cloudflare-secret-key", defaults.CloudflareSecretKey, "Data key of the token in --cloudflare-secret")
	rootCmd.Flags().String("namespace", defaults.DefaultNamespace, "Namespace for secret references without one")
	rootCmd.Flags().String("cluster-issuer", defaults.ClusterIssuer, "cert-manager ClusterIssuer (or use CLUSTER_ISSUER env var)")
	rootCmd.Flags().String("ingress-class", defaults.IngressClassName, "IngressClass of generated Ingresses")
	rootCmd.Flags().String("ingress-controller-namespace", defaults.IngressControllerNamespace,
		"Namespace of the ingress controller pods")
	rootCmd.Flags().String("ingress-controller-selector", defaults.IngressControllerSelector,
		"Label selector of the ingress controller pods")
	rootCmd.Flags().Duration("watch-timeout", defaults.WatchTimeout, "Maximum duration of a single watch stream")
	rootCmd.Flags().Duration("backoff", defaults.Backoff, "Delay before restarting the watch loop after an error")
	rootCmd.Flags().String("metrics-addr", ":8080", "Address for metrics endpoint (empty disables)")
	rootCmd.Flags().String("health-addr", ":8081", "Address for health probe endpoint (empty disables)")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("GATEWAY")
	viper.AutomaticEnv()

	_ = viper.BindEnv("cloudflare-api-key", "CLOUDFLARE_API_KEY", "GATEWAY_CLOUDFLARE_API_KEY")
	_ = viper.BindEnv("cluster-issuer", "CLUSTER_ISSUER", "GATEWAY_CLUSTER_ISSUER")
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func optionsFromViper() config.Options {
	return config.Options{
		CloudflareAPIKey:           viper.GetString("cloudflare-api-key"),
		CloudflareSecret:           viper.GetString("cloudflare-secret"),
		CloudflareSecretKey:        viper.GetString("cloudflare-secret-key"),
		DefaultNamespace:           viper.GetString("namespace"),
		ClusterIssuer:              viper.GetString("cluster-issuer"),
		IngressClassName:           viper.GetString("ingress-class"),
		IngressControllerNamespace: viper.GetString("ingress-controller-namespace"),
		IngressControllerSelector:  viper.GetString("ingress-controller-selector"),
		WatchTimeout:               viper.GetDuration("watch-timeout"),
		Backoff:                    viper.GetDuration("backoff"),
		MetricsAddr:                viper.GetString("metrics-addr"),
		HealthAddr:                 viper.GetString("health-addr"),
	}
}

func runController(_ *cobra.Command, _ []string) error {
	logger := logging.New(os.Stdout, viper.GetString("log-level"), viper.GetString("log-format"))
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting internet-gateway",
		"version", version,
		"gitsha", gitsha,
	)

	opts := optionsFromViper()

	err := opts.Validate()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()

	err = controller.Run(ctx, &opts)
	if err != nil {
		return errors.Wrap(err, "failed to run controller")
	}

	logger.Info("shutting down", "uptime", time.Since(startedAt).Round(time.Second).String())

	return nil
}
