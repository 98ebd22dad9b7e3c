package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/REM-Infotech/crawjud-ui/internal/api"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, api.ErrUnauthorized) && !errors.Is(err, api.ErrUnreachable) {
			// the navigator already printed these
			os.Stderr.WriteString("Erro: " + err.Error() + "\n")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions
	root := &cobra.Command{
		Use:           "crawjud",
		Short:         "CrawJUD client: launch and follow court automation bots",
		Long:          "Signs in to the CrawJUD backend, uploads spreadsheets and attachments, starts bots and follows their logs.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "configuration directory (default ~/.crawjud)")
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "backend URL, overrides the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		loginCmd(&opts),
		logoutCmd(&opts),
		sessionCmd(&opts),
		botsCmd(&opts),
		credentialsCmd(&opts),
		uploadCmd(&opts),
		runCmd(&opts),
		logsCmd(&opts),
		stopCmd(&opts),
		executionsCmd(&opts),
		downloadCmd(&opts),
		doctorCmd(&opts),
		cacheCmd(&opts),
		configCmd(&opts),
	)
	return root
}
