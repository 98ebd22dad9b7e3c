package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/REM-Infotech/crawjud-ui/internal/execlog"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
)

// followLogs prints the execution log until it finishes or the user interrupts.
func (a *app) followLogs(ctx context.Context, pid, bot string) (execlog.Counts, error) {
	m, err := a.realtime()
	if err != nil {
		return execlog.Counts{}, err
	}
	db, err := a.history()
	if err != nil {
		logger.Warn("local history unavailable", "err", err)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	f := &execlog.Follower{
		Channel: m.Socket(realtime.NamespaceLogs),
		Store:   db,
		Handler: a.term.LogLine,
		Bot:     bot,
		Logger:  logger.Log,
	}
	a.term.Title("Execução " + pid)
	counts, err := f.Follow(ctx, pid)
	a.term.Println(fmt.Sprintf("total %d  sucessos %d  erros %d  restantes %d",
		counts.Total, counts.Successes, counts.Errors, counts.Remaining))
	switch {
	case err == nil:
		if a.push != nil {
			a.push.SendFinished(context.WithoutCancel(ctx), pid, bot, counts.Successes, counts.Errors)
		}
	case errors.Is(err, execlog.ErrStopped):
		a.term.Notify("Execução", "robô encerrado")
		if a.push != nil {
			a.push.SendStopped(context.WithoutCancel(ctx), pid, bot)
		}
		return counts, nil
	case errors.Is(err, context.Canceled):
		return counts, nil
	}
	return counts, err
}

func logsCmd(opts *globalOptions) *cobra.Command {
	var historyFlag bool
	cmd := &cobra.Command{
		Use:   "logs <pid>",
		Short: "Follow the log of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			pid := args[0]

			if !historyFlag {
				_, err := a.followLogs(cmd.Context(), pid, "")
				return err
			}
			db, err := a.history()
			if err != nil {
				return err
			}
			msgs, err := db.ListMessages(pid)
			if err != nil {
				return err
			}
			lines := make([]realtime.LogMessage, 0, len(msgs))
			for _, m := range msgs {
				lm := realtime.LogMessage{PID: m.PID, Message: m.Text, TimeMessage: m.TimeMessage, MessageType: m.Type, Status: m.Status, Row: m.Row}
				if m.Link != nil {
					lm.Link = *m.Link
				}
				a.term.LogLine(lm)
				lines = append(lines, lm)
			}
			c := execlog.Counters(lines)
			a.term.Println(fmt.Sprintf("total %d  sucessos %d  erros %d  restantes %d", c.Total, c.Successes, c.Errors, c.Remaining))
			return nil
		},
	}
	cmd.Flags().BoolVar(&historyFlag, "history", false, "print the locally recorded log instead of following")
	return cmd
}

func stopCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pid>",
		Short: "Ask the backend to stop an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			m, err := a.realtime()
			if err != nil {
				return err
			}
			f := &execlog.Follower{Channel: m.Socket(realtime.NamespaceLogs), Logger: logger.Log}
			if err := f.Stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.term.Println("Solicitação de parada enviada para", args[0])
			return nil
		},
	}
}
