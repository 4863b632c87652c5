package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/chain"
	"github.com/0gfoundation/0g-gasless/internal/config"
	"github.com/0gfoundation/0g-gasless/internal/executor"
	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

const keyEnv = "GASLESS_PRIVATE_KEY"

var errNoRPC = errors.New("RPC_URL is not set")

// app is the state shared by every subcommand.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	key   *signer.Key
	chain *chain.Client
	ex    *executor.Executor

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "gasless",
		Short:         "Sign and submit gasless transactions through a relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			a.ctx, a.cancel = context.WithTimeout(context.Background(), timeout)
			return a.init(a.ctx)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")

	root.AddCommand(
		addressCommand(a),
		registerCommand(a),
		authorizeCommand(a),
		delegateCommand(a),
		transferCommand(a),
		statusCommand(a),
		priceCommand(a),
		balanceCommand(a),
		contractsCommand(a),
		mintCommand(a),
		whitelistCommand(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log

	raw := os.Getenv(keyEnv)
	if raw == "" {
		return fmt.Errorf("%s is not set", keyEnv)
	}
	if a.key, err = signer.ParseKey(raw); err != nil {
		return err
	}

	if cfg.Chain.RPCURL != "" {
		if a.chain, err = chain.Dial(ctx, cfg.Chain.RPCURL); err != nil {
			return err
		}
	}

	rc := relay.NewClient(cfg.Relay.BaseURL,
		relay.WithAPIKey(cfg.Relay.APIKey),
		relay.WithTimeout(cfg.Relay.Timeout()),
		relay.WithRetries(cfg.Relay.MaxRetries, 200*time.Millisecond),
		relay.WithLogger(log))
	a.ex, err = executor.New(rc, executor.Options{
		SessionTTL:      cfg.Cache.SessionTTL(),
		PriceTTL:        cfg.Cache.PriceTTL(),
		DefaultDecimals: &cfg.Cache.DefaultDecimals,
		ABICacheSize:    cfg.Cache.ABICacheSize,
		TokenAddress:    cfg.Chain.TokenAddress,
		DelegateAddress: cfg.Chain.DelegateAddress,
		Chain:           a.chain,
		Logger:          log,
	})
	return err
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.log != nil {
		a.log.Sync() //nolint:errcheck
	}
}

// emit prints v as indented JSON. A failed Result becomes the command error
// after it is printed.
func emit(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if res, ok := v.(executor.Result); ok && !res.Success {
		return errors.New(res.Message())
	}
	return nil
}

func emitResult(cmd *cobra.Command, res executor.Result, err error) error {
	if err != nil {
		return err
	}
	return emit(cmd, res)
}
