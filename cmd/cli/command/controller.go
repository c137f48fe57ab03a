package command

import (
	"encoding/json"
	"fmt"
	"time"

	"signalrelay/cmd/cli/command/client"
	"signalrelay/internal/relay"

	"github.com/spf13/cobra"
)

var (
	sendTo       []string
	sendBody     string
	queryTimeout time.Duration
)

// controllerCmd groups the controller role commands
var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Controller role commands",
	Long:  `Connect as a controller to publish payloads or query the directory.`,
}

var controllerSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a payload to one or more receivers",
	Long: `Publish a payload to the named receivers.

Delivery is latest-wins: a receiver that is still busy with a previous
payload may never see this one. Use --to all to address every receiver.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireName(); err != nil {
			return err
		}
		if len(sendTo) == 0 {
			return fmt.Errorf("--to needs at least one receiver")
		}

		controller, err := client.DialController(serverAddr, roleName)
		if err != nil {
			return err
		}
		defer controller.Close()

		id, err := controller.Send(sendTo, sendBody)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("✓ Sent packet %s to %v\n", id, sendTo)
		return nil
	},
}

var controllerQueryCmd = &cobra.Command{
	Use:       "query [list|list_controllers|list_receivers]",
	Short:     "Query the directory of connected roles",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{relay.CommandList, relay.CommandListControllers, relay.CommandListReceivers},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireName(); err != nil {
			return err
		}
		command := relay.CommandList
		if len(args) == 1 {
			command = args[0]
		}

		controller, err := client.DialController(serverAddr, roleName)
		if err != nil {
			return err
		}
		defer controller.Close()

		names, err := controller.Query(command, queryTimeout)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(names, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(controllerCmd)
	controllerCmd.AddCommand(controllerSendCmd)
	controllerCmd.AddCommand(controllerQueryCmd)

	controllerSendCmd.Flags().StringSliceVar(&sendTo, "to", nil, "receiver names (comma separated)")
	controllerSendCmd.Flags().StringVar(&sendBody, "body", "", "payload to deliver")
	controllerQueryCmd.Flags().DurationVar(&queryTimeout, "timeout", 3*time.Second, "how long to wait for the reply")
}
