package command

// root.go defines the root command for the relaycli application.
// set up the global flags here.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string // Global flag for relay server address
	roleName   string // name used in the handshake
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relaycli",
	Short: "relaycli - signal relay command line client",
	Long: `relaycli talks to a signal relay server. It can:
- Connect as a controller and publish payloads to named receivers
- Query the live directory of connected controllers and receivers
- Connect as a receiver and print every payload routed to it

Use "relaycli command --help" to see the flags of each command.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServerAddr(), "relay server address")
	rootCmd.PersistentFlags().StringVar(&roleName, "name", "", "role name sent in the handshake")
}

func defaultServerAddr() string {
	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:9000"
}

func requireName() error {
	if roleName == "" {
		return fmt.Errorf("--name is required")
	}
	return nil
}
