package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/cloud/awscloud"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/config"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/handler"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/queue"
)

var Version = "dev"

func main() {
	var (
		configPath  = pflag.String("config", "", "config file path (overrides ASG_DNS_CONFIG_PATH)")
		development = pflag.Bool("dev-logging", false, "human-readable log output")
	)
	pflag.Parse()

	zapLog, err := buildLogger(*development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLog.Sync() }()
	log := zapr.NewLogger(zapLog)

	if err := run(log, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(log logr.Logger, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupLog := log.WithName("setup")
	setupLog.Info("starting yk-asg-dns", "version", Version)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	setupLog.Info("loaded config", "queue", cfg.QueueURL, "provider", cfg.DNS.Provider)

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	manager, err := dns.NewManager(cfg.DNS.Provider, log.WithName("dns-"+cfg.DNS.Provider), cfg.DNS.Settings)
	if err != nil {
		return fmt.Errorf("unable to create DNS backend: %w", err)
	}

	asgClient := autoscaling.NewFromConfig(awsCfg)
	ec2Client := ec2.NewFromConfig(awsCfg)

	h := &handler.Handler{
		Log:       log.WithName("handler"),
		Tags:      awscloud.NewTagStore(asgClient, ec2Client),
		Inventory: awscloud.NewInventory(ec2Client),
		DNS:       manager,
		Completer: awscloud.NewCompleter(asgClient),
		Opts: handler.Options{
			HostnameTagKey:        cfg.HostnameTagKey,
			InstanceIDPlaceholder: cfg.InstanceIDPlaceholder,
			UsePublicIP:           cfg.UsePublicIP,
			CallTimeout:           cfg.CallTimeout.Std(),
			TagWriteFatal:         cfg.TagWriteFatal,
		},
	}

	consumer := &queue.Consumer{
		Client:   sqs.NewFromConfig(awsCfg),
		QueueURL: cfg.QueueURL,
		Handler:  h,
		Log:      log.WithName("consumer"),
	}

	setupLog.Info("starting consumer")
	return consumer.Run(ctx)
}
