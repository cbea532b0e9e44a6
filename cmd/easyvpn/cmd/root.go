package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "easyvpn",
	Short: "EasyVPN manages OpenVPN client credentials",
	Long: `A credential service for an OpenVPN deployment: it issues and revokes
client certificates through easy-rsa and delivers encrypted client
profiles through one-shot download links.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
