// grievd delivers grievance portal notifications (live push, email, SMS and
// voice escalation) from the portal's change feed.
//
// Usage:
//
//	grievd serve -c /etc/grievd/grievd.yaml
//	grievd logs --status failed --channel sms
//	grievd config check -c grievd.toml
//	grievd token --sub a1 --role admin
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "grievd",
		Short:         "Grievance notification and escalation daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./grievd.json", "path to config file (json, yaml or toml)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(logsCmd(&cfgPath))
	root.AddCommand(configCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	return root
}
