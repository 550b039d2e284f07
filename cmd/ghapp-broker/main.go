package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/spi-tools/ghapp-broker/appauth"
	"github.com/spi-tools/ghapp-broker/ghclient"
	"github.com/spi-tools/ghapp-broker/pkg/env"
	"github.com/spi-tools/ghapp-broker/pkg/metrics"
	"github.com/spi-tools/ghapp-broker/util/svcutil"

	"github.com/labstack/gommon/bytes"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "ghapp-broker",
		Usage:   "GitHub App credential broker with HTTP traffic audit log",
		Version: env.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"GHAPP_BROKER_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:     "app-id",
				Usage:    "GitHub App ID, used as the issuer of app assertions",
				Required: true,
				EnvVars:  []string{"APP_ID"},
			},
			&cli.StringFlag{
				Name:    "app-name",
				Usage:   "GitHub App display name, sent as User-Agent",
				Value:   "SPI Test GitHub App",
				EnvVars: []string{"APP_NAME"},
			},
			&cli.StringFlag{
				Name:    "private-key-file",
				Usage:   "path to the GitHub App private key (PEM)",
				Value:   "private-key.pem",
				EnvVars: []string{"PRIVATE_KEY_FILE"},
			},
			&cli.StringFlag{
				Name:    "github-api-host",
				Usage:   "method, hostname, and port of the GitHub REST API",
				Value:   ghclient.DefaultBaseURL,
				EnvVars: []string{"GITHUB_API_HOST"},
			},
			&cli.DurationFlag{
				Name:    "upstream-timeout",
				Usage:   "deadline for each call to the GitHub API",
				Value:   30 * time.Second,
				EnvVars: []string{"UPSTREAM_TIMEOUT"},
			},
		},
		Commands: []*cli.Command{
			&cli.Command{
				Name:   "serve",
				Usage:  "run the broker HTTP service",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Usage:   "local port to listen on",
						Value:   3000,
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "access-password",
						Usage:   "password of the operator login",
						Value:   "123456",
						EnvVars: []string{"ACCESS_PASSWORD"},
					},
					&cli.StringFlag{
						Name:    "session-secret",
						Usage:   "secret for session cookie signing; random per process if unset",
						EnvVars: []string{"SESSION_SECRET"},
					},
					&cli.StringFlag{
						Name:    "interactions-file",
						Usage:   "path of the append-only HTTP audit log",
						Value:   "interactions.log",
						EnvVars: []string{"INTERACTIONS_FILE"},
					},
					&cli.StringFlag{
						Name:    "callback-data-file",
						Usage:   "path of the installation callback state document",
						Value:   "callback.data",
						EnvVars: []string{"CALLBACK_DATA_FILE"},
					},
					&cli.StringFlag{
						Name:    "webhook-data-file",
						Usage:   "path of the webhook state document",
						Value:   "webhook.data",
						EnvVars: []string{"WEBHOOK_DATA_FILE"},
					},
					&cli.StringFlag{
						Name:    "html-dir",
						Usage:   "directory holding index.html and login.html",
						Value:   "html",
						EnvVars: []string{"HTML_DIR"},
					},
					&cli.StringFlag{
						Name:    "max-body-size",
						Usage:   "largest request body buffered by the audit log (eg: 512K, 10M)",
						Value:   "10M",
						EnvVars: []string{"MAX_BODY_SIZE"},
					},
					&cli.DurationFlag{
						Name:    "audit-write-timeout",
						Usage:   "how long an exchange may wait for the audit log",
						Value:   10 * time.Second,
						EnvVars: []string{"AUDIT_WRITE_TIMEOUT"},
					},
					&cli.BoolFlag{
						Name:    "gate-token-exchange",
						Usage:   "require a login session for /installation-access-token",
						EnvVars: []string{"GATE_TOKEN_EXCHANGE"},
					},
					&cli.StringFlag{
						Name:    "metrics-listen",
						Usage:   "IP or address, and port, to listen on for metrics APIs",
						Value:   ":3989",
						EnvVars: []string{"GHAPP_BROKER_METRICS_LISTEN"},
					},
				},
			},
			&cli.Command{
				Name:   "mint-assertion",
				Usage:  "print a freshly signed app assertion (JWT)",
				Action: runMintAssertion,
			},
			&cli.Command{
				Name:   "list-installations",
				Usage:  "query the GitHub API for the app's installations",
				Action: runListInstallations,
			},
			&cli.Command{
				Name:      "installation-token",
				ArgsUsage: `<installation-id>`,
				Usage:     "exchange an app assertion for an installation access token",
				Action:    runInstallationToken,
			},
		},
	}

	return app.Run(args)
}

func loadMinter(cctx *cli.Context) (*appauth.Minter, error) {
	key, err := appauth.LoadPrivateKey(cctx.String("private-key-file"))
	if err != nil {
		return nil, err
	}
	return appauth.NewMinter(key), nil
}

func configClient(cctx *cli.Context, logger *slog.Logger) (*ghclient.Client, error) {
	minter, err := loadMinter(cctx)
	if err != nil {
		return nil, err
	}
	return ghclient.New(ghclient.Config{
		BaseURL: cctx.String("github-api-host"),
		AppID:   cctx.String("app-id"),
		AppName: cctx.String("app-name"),
		Minter:  minter,
		Timeout: cctx.Duration("upstream-timeout"),
		Logger:  logger,
	})
}

func runServe(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	logger := svcutil.ConfigLogger(cctx, os.Stdout)

	shutdownTracing, err := svcutil.ConfigOTEL(ctx, "ghapp-broker")
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "err", err)
		}
	}()

	maxBody, err := bytes.Parse(cctx.String("max-body-size"))
	if err != nil {
		return fmt.Errorf("invalid max-body-size: %w", err)
	}

	client, err := configClient(cctx, logger)
	if err != nil {
		return fmt.Errorf("failed to configure GitHub client: %w", err)
	}

	secret := []byte(cctx.String("session-secret"))
	if len(secret) == 0 {
		secret = make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
	}

	srv, err := NewServer(Config{
		Logger:            logger,
		Bind:              fmt.Sprintf(":%d", cctx.Int("port")),
		HTMLDir:           cctx.String("html-dir"),
		Exchanger:         client,
		AccessPassword:    cctx.String("access-password"),
		SessionSecret:     secret,
		InteractionsFile:  cctx.String("interactions-file"),
		CallbackDataFile:  cctx.String("callback-data-file"),
		WebhookDataFile:   cctx.String("webhook-data-file"),
		MaxBodyBytes:      maxBody,
		AuditWriteTimeout: cctx.Duration("audit-write-timeout"),
		GateTokenExchange: cctx.Bool("gate-token-exchange"),
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %v", err)
	}

	go func() {
		if err := metrics.RunServer(ctx, cctx.String("metrics-listen")); err != nil {
			slog.Error("failed to start metrics endpoint", "err", err)
			// NOTE: not crashing or halting process here
		}
	}()

	return srv.RunAPI()
}

func runMintAssertion(cctx *cli.Context) error {
	minter, err := loadMinter(cctx)
	if err != nil {
		return err
	}
	tok, err := minter.Mint(cctx.String("app-id"))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runListInstallations(cctx *cli.Context) error {
	client, err := configClient(cctx, slog.Default())
	if err != nil {
		return err
	}
	res, err := client.ListInstallations(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Println(string(res.Body))
	return nil
}

func runInstallationToken(cctx *cli.Context) error {
	client, err := configClient(cctx, slog.Default())
	if err != nil {
		return err
	}
	res, err := client.ExchangeInstallationToken(cctx.Context, cctx.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(string(res.Body))
	return nil
}
