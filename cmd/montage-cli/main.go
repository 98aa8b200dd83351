// Montage CLI — инструмент командной строки для отправки планов
// и управления runs через HTTP API рендерера.
//
// Использование:
//
//	montage [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	run    Управление runs
//	queue  Очередь рендера
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Montage/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("MONTAGE_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd := &cobra.Command{
		Use:           "montage",
		Short:         "Montage CLI — short-form video render pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewQueueCmd(clientFn, outputFn),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
