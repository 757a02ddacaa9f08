package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL   string
	flagToken    string
	flagLocation string
	flagOutput   string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "authz-admin",
	Short: "Authorization service administration CLI",
	Long: `authz-admin manages roles and assignments of the authorization API,
runs permission checks as the token's user, follows the permission change
feed, and applies migrations and system roles to the database.

Remote commands read the API URL and bearer token from --api-url / --token
or AUTHZ_API_URL / AUTHZ_TOKEN. Use "authz-admin token" to mint one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: AUTHZ_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (env: AUTHZ_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagLocation, "location", "", "Location scope sent as X-Location-ID")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(meCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(matrixCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(assignmentsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(policyCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("AUTHZ_API_URL")
	}
	if flagAPIURL == "" {
		flagAPIURL = "http://localhost:8080"
	}
	if flagToken == "" {
		flagToken = strings.TrimSpace(os.Getenv("AUTHZ_TOKEN"))
	}
}

func newClient() (*Client, error) {
	if flagToken == "" {
		return nil, errors.New("token not configured. Use --token, AUTHZ_TOKEN, or 'authz-admin token'")
	}
	return NewClient(flagAPIURL, flagToken, flagLocation, flagVerbose), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("authz-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
