// Package cmd holds the chatrelay command line: the relay server and a
// terminal chat client.
package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Multi-model chat relay",
		Long:         "chatrelay forwards each chat message to several language models in turn and streams their replies to WebSocket clients.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
	)
	return rootCmd
}
