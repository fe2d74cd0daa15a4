package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bridge "github.com/hglenn2k/azf2s-bridge"
)

var validateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validates configuration file",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	Run: func(_ *cobra.Command, _ []string) {
		err := runValidate()
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}

		fmt.Println("OK")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	if cfgPath == "" {
		cfgPath = os.Getenv("BRIDGE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = fallbackConfigPath
	}

	_, err := bridge.LoadConfig(cfgPath)

	return err
}
