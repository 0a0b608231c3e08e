package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "keydeckctl",
	Short: "Control a running keydeck daemon",
	Long: `keydeckctl talks to the keydeck daemon's REST API to manage Factory API keys:
list them with quota stats, add or import keys, refresh quotas, switch the
active key, and share key cards.

The daemon address comes from --addr or the KEYDECK_ADDR environment variable.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "daemon address (default 127.0.0.1:8190, env KEYDECK_ADDR)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(soldCmd)
	rootCmd.AddCommand(intervalCmd)
	rootCmd.AddCommand(cardCmd)
}

func initConfig() {
	viper.SetEnvPrefix("keydeck")
	viper.AutomaticEnv()
	viper.SetDefault("addr", "127.0.0.1:8190")

	if addr == "" {
		addr = viper.GetString("addr")
	}
}
