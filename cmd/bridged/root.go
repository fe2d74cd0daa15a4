package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const fallbackConfigPath = "./bridged.yaml"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "bridged",
	Short: "Session bridge and authenticated proxy for the forum",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to configuration file")
}

func main() {
	// Secrets may come from a local .env in development; absence is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
