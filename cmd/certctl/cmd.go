package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/hashengine"
	"github.com/swissborg/certificate-guardian/internal/registry"
)

const (
	nodeFlagName  = "node"
	nodeEnvKey    = "CERTCTL_NODE"
	nodeFlagUsage = "Ethereum JSON-RPC endpoint." +
		" Alternatively, this can be set with the following environment variable: " + nodeEnvKey

	registryFlagName  = "registry"
	registryEnvKey    = "CERTCTL_REGISTRY"
	registryFlagUsage = "Address of the deployed CertificateRegistry." +
		" Alternatively, this can be set with the following environment variable: " + registryEnvKey

	timeoutFlagName = "timeout"
	saltFlagName    = "salt"
	fromFlagName    = "from-block"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "certctl",
		Short:         "Academic certificate fingerprint and registry tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Duration(timeoutFlagName, 15*time.Second, "Timeout for registry calls.")

	rootCmd.AddCommand(fingerprintCmd(), checkCmd(), eventsCmd())
	return rootCmd
}

func fingerprintCmd() *cobra.Command {
	var fields certificate.Fields

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Compute the fingerprint of a certificate",
		Long: "Normalizes and canonically encodes the certificate fields and computes their salted " +
			"fingerprint. Without --salt a fresh salt is generated and printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			saltHex, err := cmd.Flags().GetString(saltFlagName)
			if err != nil {
				return err
			}

			var salt certificate.Salt
			if saltHex == "" {
				if salt, err = hashengine.NewSalt(); err != nil {
					return err
				}
			} else if salt, err = hexutil.Decode(saltHex); err != nil {
				return fmt.Errorf("parse salt: %w", err)
			}

			normalized, err := fields.Normalize()
			if err != nil {
				return err
			}

			fp, err := hashengine.Recompute(normalized, salt)
			if err != nil {
				return err
			}

			canonical, err := certificate.Encode(normalized)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]any{
				"fields":      normalized,
				"canonical":   hexutil.Bytes(canonical),
				"salt":        salt,
				"fingerprint": fp,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&fields.InstitutionID, "institution", "", "Institution id.")
	flags.StringVar(&fields.StudentName, "student", "", "Student name.")
	flags.StringVar(&fields.RollNumber, "roll", "", "Roll number.")
	flags.StringVar(&fields.CourseName, "course", "", "Course name.")
	flags.StringVar(&fields.Grade, "grade", "", "Grade.")
	flags.StringVar(&fields.IssueDate, "date", "", "Issue date.")
	flags.String(saltFlagName, "", "Hex encoded salt of an issued certificate.")

	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <fingerprint>",
		Short: "Check whether a fingerprint is in the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := certificate.ParseFingerprint(args[0])
			if err != nil {
				return err
			}

			ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			reg, closeFn, err := dialRegistry(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := reg.IsVerified(&bind.CallOpts{Context: ctx}, fp)
			if err != nil {
				return fmt.Errorf("read registry: %w", err)
			}

			return printJSON(cmd, map[string]any{
				"fingerprint": fp,
				"registry":    reg.Address(),
				"verified":    ok,
			})
		},
	}

	addRegistryFlags(cmd)
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List HashAdded events of the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := cmd.Flags().GetUint64(fromFlagName)
			if err != nil {
				return err
			}

			ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			reg, closeFn, err := dialRegistry(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			events, err := reg.FilterHashAdded(&bind.FilterOpts{Start: from, Context: ctx}, nil)
			if err != nil {
				return fmt.Errorf("filter HashAdded logs: %w", err)
			}

			type event struct {
				Fingerprint certificate.Fingerprint `json:"fingerprint"`
				Block       uint64                  `json:"block"`
				TxHash      common.Hash             `json:"tx_hash"`
			}
			out := make([]event, 0, len(events))
			for _, ev := range events {
				out = append(out, event{
					Fingerprint: ev.CertificateHash,
					Block:       ev.Raw.BlockNumber,
					TxHash:      ev.Raw.TxHash,
				})
			}

			return printJSON(cmd, out)
		},
	}

	addRegistryFlags(cmd)
	cmd.Flags().Uint64(fromFlagName, 0, "First block to scan.")
	return cmd
}

func addRegistryFlags(cmd *cobra.Command) {
	cmd.Flags().String(nodeFlagName, "", nodeFlagUsage)
	cmd.Flags().String(registryFlagName, "", registryFlagUsage)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc, error) {
	timeout, err := cmd.Flags().GetDuration(timeoutFlagName)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return ctx, cancel, nil
}

func dialRegistry(ctx context.Context, cmd *cobra.Command) (*registry.CertificateRegistry, func(), error) {
	node, err := getUserSetVar(cmd, nodeFlagName, nodeEnvKey)
	if err != nil {
		return nil, nil, err
	}

	addr, err := getUserSetVar(cmd, registryFlagName, registryEnvKey)
	if err != nil {
		return nil, nil, err
	}
	if !common.IsHexAddress(addr) {
		return nil, nil, fmt.Errorf("invalid registry address %q", addr)
	}

	client, err := ethclient.DialContext(ctx, node)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ethereum node: %w", err)
	}

	reg, err := registry.NewCertificateRegistry(common.HexToAddress(addr), client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("load certificate registry: %w", err)
	}

	return reg, client.Close, nil
}

// getUserSetVar reads a string flag, falling back to envKey.
func getUserSetVar(cmd *cobra.Command, flagName, envKey string) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet && value != "" {
		return value, nil
	}

	return "", errors.New("neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
