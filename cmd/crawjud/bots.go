package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/REM-Infotech/crawjud-ui/internal/bots"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

func botsCmd(opts *globalOptions) *cobra.Command {
	var refreshFlag bool
	cmd := &cobra.Command{
		Use:   "bots [query]",
		Short: "List the bots available to the account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if refreshFlag {
				if err := a.bots.ClearCache(); err != nil {
					return err
				}
			}
			list, err := a.bots.ListBots(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				list = filterBots(list, args[0])
			}
			rows := make([][]string, 0, len(list))
			for _, b := range list {
				rows = append(rows, []string{strconv.Itoa(b.ID), b.DisplayName, string(b.System), b.Category, string(b.FormKind)})
			}
			a.term.Table([]string{"ID", "Robô", "Sistema", "Categoria", "Formulário"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refreshFlag, "refresh", false, "ignore the cached listing")
	return cmd
}

// filterBots keeps bots whose name, system or category contains query.
func filterBots(list []bots.Bot, query string) []bots.Bot {
	q := strings.ToLower(query)
	var out []bots.Bot
	for _, b := range list {
		if strings.Contains(strings.ToLower(b.DisplayName), q) ||
			strings.EqualFold(string(b.System), q) ||
			strings.Contains(strings.ToLower(b.Category), q) {
			out = append(out, b)
		}
	}
	return out
}

func credentialsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "credentials <system>",
		Short: "List the credentials registered for a court system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			creds, err := a.bots.ListCredentials(cmd.Context(), bots.System(strings.ToUpper(args[0])))
			if err != nil {
				return err
			}
			var rows [][]string
			for _, c := range creds {
				if c.Value == nil {
					continue
				}
				rows = append(rows, []string{strconv.Itoa(*c.Value), c.Text})
			}
			a.term.Table([]string{"Valor", "Credencial"}, rows)
			return nil
		},
	}
}

func cacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached listings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop cached bot and credential listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.bots.ClearCache(); err != nil {
				return err
			}
			a.term.Println("Cache limpo.")
			return nil
		},
	})
	return cmd
}

func executionsCmd(opts *globalOptions) *cobra.Command {
	var localFlag bool
	var limitFlag, pruneFlag int
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List bot executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			headers := []string{"PID", "Robô", "Status", "Início", "Fim"}
			var rows [][]string
			if localFlag {
				db, err := a.history()
				if err != nil {
					return err
				}
				if pruneFlag > 0 {
					n, err := db.Prune(pruneFlag)
					if err != nil {
						return err
					}
					logger.Log.Info("history pruned", "deleted", n, "kept", pruneFlag)
				}
				execs, err := db.ListExecutions(limitFlag)
				if err != nil {
					return err
				}
				headers = append(headers, "Sucessos", "Erros")
				for _, e := range execs {
					end := ""
					if e.FinishedAt != nil {
						end = e.FinishedAt.Local().Format("02/01/2006 15:04")
					}
					rows = append(rows, []string{e.PID, e.Bot, e.Status, e.StartedAt.Local().Format("02/01/2006 15:04"), end,
						strconv.Itoa(e.Successes), strconv.Itoa(e.Errors)})
				}
			} else {
				execs, err := a.bots.ListExecutions(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range execs {
					rows = append(rows, []string{e.PID, e.Bot, e.Status, e.StartedAt, e.EndedAt})
				}
			}
			a.term.Table(headers, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&localFlag, "local", false, "show the local history instead of the backend's")
	cmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum rows of local history")
	cmd.Flags().IntVar(&pruneFlag, "prune", 0, "with --local, keep only the N newest executions")
	return cmd
}

func downloadCmd(opts *globalOptions) *cobra.Command {
	var dirFlag string
	cmd := &cobra.Command{
		Use:   "download <pid>",
		Short: "Download the result archive of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			dir := dirFlag
			if dir == "" {
				dir = a.cfg.DownloadDir()
			}
			path, err := a.bots.Download(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			a.term.Notify("Download", fmt.Sprintf("arquivo salvo em %s", path))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dirFlag, "dir", "d", "", "destination directory")
	return cmd
}
