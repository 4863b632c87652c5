package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-gasless/internal/amount"
	"github.com/0gfoundation/0g-gasless/internal/codec"
)

func addressCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(cmd, map[string]string{"address": a.key.Address().Hex()})
		},
	}
}

func registerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the key's account with the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.Register(a.ctx, a.key)
			return emitResult(cmd, res, err)
		},
	}
}

func authorizeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize",
		Short: "Sign an EIP-7702 authorization for the relay's delegate without sending it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.Authorize(a.ctx, a.key, a.cfg.Chain.ChainID)
			return emitResult(cmd, res, err)
		},
	}
}

func delegateCommand(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Delegate the key's account to the relay's delegate contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.Delegate(a.ctx, a.key, a.cfg.Chain.ChainID, nil, wait)
			return emitResult(cmd, res, err)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the transaction to be mined")
	return cmd
}

func transferCommand(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Transfer tokens, amount in human units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.ex.Transfer(a.ctx, a.key, args[0], args[1], wait)
			return emitResult(cmd, res, err)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the transaction to be mined")
	return cmd
}

func statusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the delegation state reported by the relay, and by chain when RPC_URL is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.Status(a.ctx, a.key)
			if err != nil || !res.Success || a.chain == nil {
				return emitResult(cmd, res, err)
			}
			delegate, ok, err := a.chain.Delegation(a.ctx, a.key.Address())
			if err != nil {
				return err
			}
			out := map[string]any{"relay": res, "chainDelegated": ok}
			if ok {
				out["chainDelegate"] = delegate.Hex()
				if n, err := a.chain.DelegationNonce(a.ctx, a.key.Address()); err == nil {
					out["chainDelegationNonce"] = n.Dec()
				}
			}
			return emit(cmd, out)
		},
	}
}

func priceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the relay's gold price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.GoldPrice(a.ctx, a.key)
			return emitResult(cmd, res, err)
		},
	}
}

func balanceCommand(a *app) *cobra.Command {
	var digits int
	cmd := &cobra.Command{
		Use:   "balance [owner]",
		Short: "Read a token balance from chain (requires RPC_URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.chain == nil {
				return errNoRPC
			}
			owner := a.key.Address()
			if len(args) == 1 {
				addr, err := codec.DecodeAddress(args[0])
				if err != nil {
					return err
				}
				owner = addr
			}
			res, err := a.ex.Contracts(a.ctx)
			if err != nil || !res.Success {
				return emitResult(cmd, res, err)
			}
			var addrs struct{ TokenAddress string }
			if err := json.Unmarshal(res.Data, &addrs); err != nil {
				return err
			}
			token, err := codec.DecodeAddress(addrs.TokenAddress)
			if err != nil {
				return err
			}
			raw, err := a.chain.Token(token).BalanceOf(a.ctx, owner)
			if err != nil {
				return err
			}
			info := a.ex.Decimals(a.ctx)
			return emit(cmd, map[string]any{
				"owner":         owner.Hex(),
				"token":         token.Hex(),
				"raw":           raw.Dec(),
				"balance":       amount.Format(raw, info.Decimals, digits),
				"decimals":      info.Decimals,
				"decimalsKnown": info.Known,
			})
		},
	}
	cmd.Flags().IntVar(&digits, "digits", 6, "maximum fraction digits to print")
	return cmd
}

func contractsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "Show the relay's delegate and token addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ex.Contracts(a.ctx)
			return emitResult(cmd, res, err)
		},
	}
}

func mintCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mint <address> <amount>",
		Short: "Admin: credit tokens to an address (requires RELAY_API_KEY)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.ex.Mint(a.ctx, a.key, args[0], args[1])
			return emitResult(cmd, res, err)
		},
	}
}

func whitelistCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist <address>",
		Short: "Admin: allow an address to use sponsored delegation (requires RELAY_API_KEY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.ex.Whitelist(a.ctx, a.key, args[0])
			return emitResult(cmd, res, err)
		},
	}
}
