package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/canyapan/fxsync/internal/app"
	"github.com/canyapan/fxsync/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "fxsync",
		Usage: "Push FX mid rates into S/4HANA",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "fx--base-url",
				Usage: "FX rates API base URL",
			},
			&cli.StringFlag{
				Name:  "s4hana--base-url",
				Usage: "S/4HANA OData base URL",
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			syncCommand(),
			secretCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "serve the sync API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.DurationFlag{
				Name:  "s4hana--csrf--max-token-age",
				Usage: "how long a CSRF token is reused",
				Value: app.DefaultConfigCSRFMaxTokenAge,
			},
			&cli.BoolFlag{
				Name:  "s4hana--csrf--single-flight",
				Usage: "collapse concurrent CSRF token fetches",
			},
			&cli.BoolFlag{
				Name:  "metrics--enabled",
				Usage: "expose Prometheus metrics on /metrics",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd, loadOptions{})
	if err != nil {
		return err
	}
	defer flush(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "sync a single currency pair and exit",
		ArgsUsage: "<base> <target>",
		Action:    syncAction,
	}
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("expected <base> <target>, got %d arguments", cmd.Args().Len())
	}
	base, target := strings.ToUpper(cmd.Args().Get(0)), strings.ToUpper(cmd.Args().Get(1))

	validate := validator.New()
	for _, code := range []string{base, target} {
		if err := validate.Var(code, "required,iso4217"); err != nil {
			return fmt.Errorf("invalid currency code %q", code)
		}
	}

	cfg, shutdown, err := setup(ctx, cmd, loadOptions{})
	if err != nil {
		return err
	}
	defer flush(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	syncID, err := application.Service().UpdateRate(ctx, base, target)
	if err != nil {
		return fmt.Errorf("sync %s/%s failed: %w", base, target, err)
	}

	_, _ = fmt.Fprintln(cmd.Root().Writer, syncID)
	return nil
}

func secretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "manage the S/4HANA backend secret",
		Commands: []*cli.Command{
			{
				Name:   "set",
				Usage:  "store the password or client secret, read from the terminal or stdin",
				Action: secretSetAction,
			},
		},
	}
}

func secretSetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd, loadOptions{skipValidation: true})
	if err != nil {
		return err
	}
	defer flush(shutdown)

	store, err := cfg.S4Hana.Auth.NewSecretStore()
	if err != nil {
		return fmt.Errorf("failed to open secret store: %w", err)
	}

	secret, err := readSecret(os.Stdin, cmd.Root().ErrWriter)
	if err != nil {
		return err
	}

	if err := store.Write(ctx, secret); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	slog.InfoContext(ctx, "secret stored", "storage", cfg.S4Hana.Auth.Storage)
	return nil
}

// readSecret prompts without echo when stdin is a terminal and reads a
// single line otherwise.
func readSecret(in *os.File, prompt io.Writer) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		_, _ = fmt.Fprint(prompt, "Secret: ")
		b, err := term.ReadPassword(int(in.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return nonEmpty(string(b))
	}

	b, err := io.ReadAll(io.LimitReader(in, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return nonEmpty(string(b))
}

func nonEmpty(secret string) (string, error) {
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	return secret, nil
}

// setup loads the config and installs the logger before anything else logs.
func setup(ctx context.Context, cmd *cli.Command, opts loadOptions) (*app.Config, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd, os.Environ, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, observability.Config{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.LogExporter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}

func flush(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), app.DefaultConfigShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}
