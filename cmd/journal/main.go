package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "journal",
	Short: "JournalSync CLI",
	Long:  "A CLI for inspecting and managing a JournalSync account.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(inferenceCmd())
	rootCmd.AddCommand(addonsCmd())
	rootCmd.AddCommand(healthCmd())
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Account and device commands"}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an OAuth provider identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _ := cmd.Flags().GetString("provider")
			idToken, _ := cmd.Flags().GetString("id-token")
			deviceName, _ := cmd.Flags().GetString("device-name")
			client := newClient()
			result, err := client.post("/v1/auth/signin", map[string]any{
				"provider":    provider,
				"id_token":    idToken,
				"device_name": deviceName,
				"platform":    "cli",
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["access_token"].(string); ok {
				cfg.AccessToken = tok
				if rt, ok := result["refresh_token"].(string); ok {
					cfg.RefreshToken = rt
				}
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Tokens saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	loginCmd.Flags().String("provider", "google", "OAuth provider: google or apple")
	loginCmd.Flags().String("id-token", "", "Provider identity token")
	loginCmd.Flags().String("device-name", "cli", "Device name to register")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the saved access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			loadConfig()
			if cfg.RefreshToken == "" {
				printError("no refresh token saved, run `journal auth login` first")
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/auth/refresh", map[string]any{
				"refresh_token": cfg.RefreshToken,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["access_token"].(string); ok {
				cfg.AccessToken = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Access token refreshed.")
				}
			}
			printResult(result)
			return nil
		},
	}

	devicesCmd := &cobra.Command{Use: "devices", Short: "Registered device commands"}
	devicesListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/devices")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if devices, ok := result["devices"].([]any); ok {
				for _, d := range devices {
					if dev, ok := d.(map[string]any); ok {
						fmt.Printf("%v\t%v\t%v\n", dev["device_id"], dev["device_name"], dev["platform"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	devicesDeleteCmd := &cobra.Command{
		Use:   "delete <device-id>",
		Short: "Deregister a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/auth/devices/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Device deregistered: " + args[0])
			return nil
		},
	}
	devicesCmd.AddCommand(devicesListCmd, devicesDeleteCmd)

	cmd.AddCommand(loginCmd, refreshCmd, devicesCmd)
	return cmd
}

// --- sync ---

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "Sync state commands"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sync/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(statusCmd)
	return cmd
}

// --- inference ---

func inferenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "inference", Short: "AI inference commands"}

	publicKeyCmd := &cobra.Command{
		Use:   "public-key",
		Short: "Show the server's key-exchange public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/inference/public-key")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show remaining daily inference quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/inference/usage")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	providerCmd := &cobra.Command{
		Use:   "provider",
		Short: "Show the configured inference provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/inference/provider")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(publicKeyCmd, usageCmd, providerCmd)
	return cmd
}

// --- addons ---

func addonsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "addons", Short: "Add-on and entitlement commands"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show purchased add-ons",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/addons/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	featuresCmd := &cobra.Command{
		Use:   "features",
		Short: "Show feature flags for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/addons/features")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify-receipt",
		Short: "Submit a store receipt for verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, _ := cmd.Flags().GetString("platform")
			productID, _ := cmd.Flags().GetString("product-id")
			receiptFile, _ := cmd.Flags().GetString("receipt-file")
			data, err := os.ReadFile(receiptFile)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/addons/verify-receipt", map[string]any{
				"platform":     platform,
				"product_id":   productID,
				"receipt_data": string(data),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	verifyCmd.Flags().String("platform", "ios", "Store platform: ios or android")
	verifyCmd.Flags().String("product-id", "", "Product identifier")
	verifyCmd.Flags().String("receipt-file", "", "File holding the raw receipt data")

	cmd.AddCommand(statusCmd, featuresCmd, verifyCmd)
	return cmd
}

// --- health ---

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}
