package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnlrnzn/trumptrader/internal/api"
	"github.com/lnlrnzn/trumptrader/pkg/db"
	"github.com/lnlrnzn/trumptrader/pkg/exchanges/aster"
)

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the owner and signer addresses derived from the configured keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := newSigner(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner:  %s\n", signer.OwnerAddress())
			fmt.Fprintf(out, "signer: %s\n", signer.SignerAddress())
			if signer.OwnerAddress() == signer.SignerAddress() {
				fmt.Fprintln(out, "owner and signer are the same wallet")
			} else {
				fmt.Fprintln(out, "signer is an API wallet acting for the owner")
			}
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Validate configuration and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration ok")
			if err := verifyDatabase(out, cfg.Database.Path); err != nil {
				return err
			}
			if !cfg.HasCredentials() {
				fmt.Fprintln(out, "no credentials configured (dry run only)")
				return nil
			}
			signer, err := newSigner(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "credentials ok: owner %s, signer %s\n", signer.OwnerAddress(), signer.SignerAddress())
			if !online {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			bal, err := newClient(cfg, signer).GetAccountBalance(ctx)
			if err != nil {
				return fmt.Errorf("signed request rejected: %w", err)
			}
			fmt.Fprintf(out, "signed request ok: available %.2f USDT\n", bal.Available)
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also send one signed request to the exchange")
	return cmd
}

// verifyDatabase checks an existing store file without migrating it.
func verifyDatabase(out io.Writer, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "database %s not created yet\n", path)
		return nil
	}
	database, err := db.New(path)
	if err != nil {
		return err
	}
	defer database.Close()
	missing, err := db.VerifySchema(database)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		fmt.Fprintf(out, "database %s needs migration, missing: %s\n", path, strings.Join(missing, ", "))
		return nil
	}
	fmt.Fprintf(out, "database %s schema ok\n", path)
	return nil
}

func signCmd() *cobra.Command {
	var (
		endpoint  string
		params    map[string]string
		nonce     uint64
		timestamp int64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed request for debugging signature mismatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := newSigner(cfg)
			if err != nil {
				return err
			}
			signer.SetRecvWindow(cfg.Aster.RecvWindow)

			var req *aster.SignedRequest
			if nonce > 0 && timestamp > 0 {
				req, err = signer.SignAt(endpoint, aster.Params(params), nonce, timestamp)
			} else {
				req, err = signer.Sign(endpoint, aster.Params(params))
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "endpoint:   %s\n", req.Endpoint)
			fmt.Fprintf(out, "serialized: %s\n", req.Serialized)
			fmt.Fprintf(out, "nonce:      %d\n", req.Nonce)
			fmt.Fprintf(out, "timestamp:  %d\n", req.Timestamp)
			fmt.Fprintf(out, "user:       %s\n", req.User)
			fmt.Fprintf(out, "signer:     %s\n", req.Signer)
			fmt.Fprintf(out, "signature:  %s\n", req.Signature)
			fmt.Fprintf(out, "query:      %s\n", req.Query().Encode())
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "/fapi/v3/balance", "endpoint path")
	cmd.Flags().StringToStringVar(&params, "param", map[string]string{}, "request parameter key=value (repeatable)")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "fixed nonce in microseconds (requires --timestamp)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "fixed timestamp in milliseconds (requires --nonce)")
	return cmd
}

func pingCmd() *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity: server time, price and, with credentials, balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if symbol == "" {
				symbol = cfg.Trading.DefaultSymbol
			}
			var signer *aster.Signer
			if cfg.HasCredentials() {
				if signer, err = newSigner(cfg); err != nil {
					return err
				}
			}
			client := newClient(cfg, signer)

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			out := cmd.OutOrStdout()

			skew, err := client.Ping(ctx)
			if err != nil {
				return fmt.Errorf("server time: %w", err)
			}
			fmt.Fprintf(out, "server reachable, clock skew %s\n", skew)

			price, err := client.GetCurrentPrice(ctx, strings.ToUpper(symbol))
			if err != nil {
				return fmt.Errorf("price: %w", err)
			}
			fmt.Fprintf(out, "%s price %.2f\n", strings.ToUpper(symbol), price)

			if signer == nil {
				return nil
			}
			bal, err := client.GetAccountBalance(ctx)
			if err != nil {
				return fmt.Errorf("balance: %w", err)
			}
			fmt.Fprintf(out, "balance total %.2f available %.2f USDT (weight %s)\n", bal.Total, bal.Available, client.UsedWeight())
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol to price (default: trading symbol)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := api.GenerateToken(subject, cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	return cmd
}
