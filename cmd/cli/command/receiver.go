package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalrelay/cmd/cli/command/client"

	"github.com/spf13/cobra"
)

// receiverCmd groups the receiver role commands
var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Receiver role commands",
}

var receiverListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print every payload routed to this receiver",
	Long: `Connect as a receiver and print each payload routed to it.

Heartbeat probes from the server are answered automatically.
Press Ctrl+C to stop listening and disconnect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireName(); err != nil {
			return err
		}

		receiver, err := client.DialReceiver(serverAddr, roleName)
		if err != nil {
			return err
		}
		defer receiver.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("📡 Listening as receiver:%s on %s (Press Ctrl+C to stop)\n", roleName, serverAddr)
		err = receiver.Listen(ctx, func(body string) {
			fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), body)
		})

		stats := receiver.Stats()
		fmt.Printf("\nReceived %d messages, acknowledged %d heartbeats in %s\n",
			stats.MessagesReceived, stats.HeartbeatsAcked, time.Since(stats.ConnectedAt).Round(time.Second))
		return err
	},
}

func init() {
	rootCmd.AddCommand(receiverCmd)
	receiverCmd.AddCommand(receiverListenCmd)
}
