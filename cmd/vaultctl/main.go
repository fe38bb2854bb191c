package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sharding-experiment/slotvault/config"
	"github.com/sharding-experiment/slotvault/internal/network"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/spf13/cobra"
)

var (
	nodeURL string
	sender  string
	timeout time.Duration

	depositCustodian string
	depositValue     string
	depositPayload   string

	bounceValue string
)

// rootCmd talks to a running custodian node
var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Operate a slot vault custodian node",
	Long: `Submit invocations to a custodian node and inspect its state.

Invocations:
  deposit       - Notify the vault that an asset was transferred to it
  withdraw-fees - Transfer accumulated profit to the administrator
  withdraw-all  - Release every held asset in bounded batches
  bounce        - Report that a release could not be delivered

Queries:
  holdings, fees, receipt`,
	SilenceUsage: true,
}

var depositCmd = &cobra.Command{
	Use:   "deposit <asset>",
	Short: "Deposit an asset on behalf of a custodian",
	Long: `Deposit sends a deposit notification whose sender is the asset address.
A deposit by the administrator always takes a slot; any other custodian must
outbid the lowest-priority holding once the protected window is full.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeposit,
}

var withdrawFeesCmd = &cobra.Command{
	Use:   "withdraw-fees",
	Short: "Withdraw the accumulated profit (admin only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd.Context(), protocol.Envelope{
			Sender:  common.HexToAddress(sender),
			Message: protocol.AdminFeeWithdrawal{QueryID: uint64(time.Now().UnixNano())},
		})
	},
}

var withdrawAllCmd = &cobra.Command{
	Use:   "withdraw-all",
	Short: "Release every held asset (admin only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd.Context(), protocol.Envelope{
			Sender:  common.HexToAddress(sender),
			Message: protocol.AdminWithdrawAll{QueryID: uint64(time.Now().UnixNano())},
		})
	},
}

var bounceCmd = &cobra.Command{
	Use:   "bounce <release-id>",
	Short: "Report an undeliverable release",
	Long: `Bounce tells the vault that a release came back. The --sender must be the
released asset, or the recipient for a value-only release.`,
	Args: cobra.ExactArgs(1),
	RunE: runBounce,
}

var holdingsCmd = &cobra.Command{
	Use:   "holdings [slot]",
	Short: "List holdings, or show the holding at one slot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHoldings,
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Show the profit accumulator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fees, err := client().Fees(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(fees)
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <id>",
	Short: "Show the receipt of a processed invocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		receipt, err := client().Receipt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(receipt)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", envOr("CUSTODIAN_URL", "http://localhost:8080"), "Custodian node URL")
	rootCmd.PersistentFlags().StringVar(&sender, "sender", os.Getenv("CUSTODIAN_ADMIN"), "Sender address of the invocation")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	depositCmd.Flags().StringVar(&depositCustodian, "custodian", "", "Custodian the asset is held for (required)")
	depositCmd.Flags().StringVar(&depositValue, "value", "0", "Attached value in units, e.g. 2.1")
	depositCmd.Flags().StringVar(&depositPayload, "payload", "", "Hex payload forwarded with a rejected deposit")
	depositCmd.MarkFlagRequired("custodian")

	bounceCmd.Flags().StringVar(&bounceValue, "value", "0", "Value carried back by the bounce")

	rootCmd.AddCommand(depositCmd, withdrawFeesCmd, withdrawAllCmd, bounceCmd, holdingsCmd, feesCmd, receiptCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *network.Client {
	return network.NewClient(nodeURL, network.NewHTTPClient(config.NetworkConfig{}, timeout))
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s %q is not an address", name, s)
	}
	return common.HexToAddress(s), nil
}

func runDeposit(cmd *cobra.Command, args []string) error {
	asset, err := parseAddress("asset", args[0])
	if err != nil {
		return err
	}
	custodian, err := parseAddress("custodian", depositCustodian)
	if err != nil {
		return err
	}
	value, err := protocol.ParseUnits(depositValue)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	var payload []byte
	if depositPayload != "" {
		if payload, err = hexPayload(depositPayload); err != nil {
			return err
		}
	}

	return submit(cmd.Context(), protocol.Envelope{
		Sender: asset,
		Value:  value,
		Message: protocol.DepositNotification{
			QueryID:   uint64(time.Now().UnixNano()),
			Custodian: custodian,
			Payload:   payload,
		},
	})
}

func hexPayload(s string) ([]byte, error) {
	b, err := common.ParseHexOrString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return b, nil
}

func runBounce(cmd *cobra.Command, args []string) error {
	from, err := parseAddress("sender", sender)
	if err != nil {
		return err
	}
	value, err := protocol.ParseUnits(bounceValue)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return submit(cmd.Context(), protocol.Envelope{
		Sender: from,
		Value:  value,
		Message: protocol.BounceNotification{
			QueryID: uint64(time.Now().UnixNano()),
			Release: protocol.Release{ID: args[0]},
		},
	})
}

func runHoldings(cmd *cobra.Command, args []string) error {
	c := client()
	if len(args) == 0 {
		holdings, err := c.Holdings(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(holdings)
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid slot %q", args[0])
	}
	h, err := c.Holding(cmd.Context(), slot)
	if err != nil {
		return err
	}
	return printJSON(h)
}

// submit prints the receipt of an invocation, including refused ones
func submit(ctx context.Context, env protocol.Envelope) error {
	receipt, err := client().Submit(ctx, env)
	var apiErr *network.APIError
	if errors.As(err, &apiErr) && apiErr.Receipt != nil {
		printJSON(apiErr.Receipt)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d transactions\n", receipt.Transactions())
	return printJSON(receipt)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
