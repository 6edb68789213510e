package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stepup-challenge/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stepup",
		Short: "Step-up payment authentication challenges",
		Long: `stepup runs step-up authentication challenges: a one-time code, a card PIN and an
out-of-band approval by an operator over a messaging service.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.RunCmd())
	rootCmd.AddCommand(cli.StatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
