package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/REM-Infotech/crawjud-ui/internal/bots"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
	"github.com/REM-Infotech/crawjud-ui/internal/store"
	"github.com/REM-Infotech/crawjud-ui/internal/upload"
)

// uploadPaths sends the files in one batch over the configured transport.
func (a *app) uploadPaths(ctx context.Context, paths []string, seed string) (*upload.Result, error) {
	files := make([]upload.FileSource, 0, len(paths))
	for _, p := range paths {
		src, f, err := upload.OpenFile(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		files = append(files, src)
	}
	bar := a.term.Progress("Enviando arquivos")

	if a.cfg.Upload.Transport == "minio" {
		mc := a.cfg.MinIO
		ou, err := upload.NewObjectUploader(upload.ObjectOptions{
			Endpoint:  mc.Endpoint,
			Port:      mc.Port,
			UseSSL:    mc.UseSSL,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			Bucket:    mc.Bucket,
		})
		if err != nil {
			return nil, err
		}
		ou.Progress, ou.Notifier, ou.Logger = bar, a.notifier(), logger.Log
		res, err := ou.UploadFiles(ctx, files, seed)
		if err != nil {
			return nil, err
		}
		// the backend resolves object batches by seed
		res.SocketID = res.Seed
		return res, nil
	}

	m, err := a.realtime()
	if err != nil {
		return nil, err
	}
	u := &upload.Uploader{
		Channel:    m.Socket(realtime.NamespaceFiles),
		Progress:   bar,
		Notifier:   a.notifier(),
		ChunkSize:  a.cfg.Upload.ChunkSize,
		Throttle:   a.cfg.Upload.Throttle,
		MaxRetries: a.cfg.Upload.MaxRetries,
		Grace:      a.cfg.Upload.Grace,
		StepDelay:  a.cfg.Upload.StepDelay,
		Logger:     logger.Log,
	}
	return u.UploadFiles(ctx, files, seed)
}

func uploadCmd(opts *globalOptions) *cobra.Command {
	var seedFlag string
	cmd := &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload files for a later run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.uploadPaths(cmd.Context(), args, seedFlag)
			if err != nil {
				return err
			}
			a.term.Println("seed:", res.Seed)
			a.term.Println("sid_filesocket:", res.SocketID)
			a.term.Println("arquivos:", strings.Join(res.Files, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&seedFlag, "seed", "", "batch identifier (random when empty)")
	return cmd
}

type runFlags struct {
	spreadsheet  string
	attachments  []string
	credential   int
	certificate  string
	certPassword string
	follow       bool
}

func runCmd(opts *globalOptions) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <bot>",
		Short: "Upload the inputs of a bot and start it",
		Long:  "Looks the bot up by id or name, uploads the spreadsheet, attachments and certificate its form needs, then starts the run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			list, err := a.bots.ListBots(ctx)
			if err != nil {
				return err
			}
			bot, err := bots.FindBot(list, args[0])
			if err != nil {
				return err
			}

			needCred, _, _, needCert := bot.FormKind.Needs()
			form := bots.RunForm{FormKind: bot.FormKind, BotID: bot.ID, SocketID: "pending"}
			var paths []string
			if f.spreadsheet != "" {
				form.Spreadsheet = upload.SanitizeName(baseName(f.spreadsheet))
				paths = append(paths, f.spreadsheet)
			}
			for _, p := range f.attachments {
				form.Attachments = append(form.Attachments, upload.SanitizeName(baseName(p)))
				paths = append(paths, p)
			}
			if needCred && cmd.Flags().Changed("credencial") {
				form.Credential = &f.credential
			}
			if needCert && f.certificate != "" {
				form.Certificate = upload.SanitizeName(baseName(f.certificate))
				paths = append(paths, f.certificate)
				form.CertificatePassword = f.certPassword
				if form.CertificatePassword == "" {
					if form.CertificatePassword, err = promptPassword(bufio.NewReader(os.Stdin), "Senha do certificado: "); err != nil {
						return err
					}
				}
			}
			if err := form.Validate(); err != nil {
				if needCred && form.Credential == nil {
					a.showCredentials(ctx, bot.System)
				}
				return err
			}

			if len(paths) > 0 {
				res, err := a.uploadPaths(ctx, paths, "")
				if err != nil {
					return err
				}
				form.SocketID, form.Seed = res.SocketID, res.Seed
			} else {
				sid, err := a.filesSocketID(ctx)
				if err != nil {
					return err
				}
				form.SocketID = sid
			}

			result := a.bots.StartRun(ctx, form, *bot)
			if !result.OK {
				return result.Err
			}
			a.term.Notify(result.Title, result.Message)
			a.term.Println("pid:", result.PID)

			if db, err := a.history(); err == nil {
				db.UpsertExecution(&store.Execution{PID: result.PID, Bot: bot.DisplayName, Status: bots.StatusInitializing})
			}
			if !f.follow {
				return nil
			}
			_, err = a.followLogs(ctx, result.PID, bot.DisplayName)
			return err
		},
	}
	cmd.Flags().StringVar(&f.spreadsheet, "xlsx", "", "spreadsheet (planilha_xlsx)")
	cmd.Flags().StringSliceVar(&f.attachments, "anexos", nil, "attachments (anexos)")
	cmd.Flags().IntVar(&f.credential, "credencial", 0, "credential value, see `crawjud credentials <system>`")
	cmd.Flags().StringVar(&f.certificate, "certificado", "", "PJe certificate (.pfx)")
	cmd.Flags().StringVar(&f.certPassword, "senha-certificado", "", "certificate password (prompted when empty)")
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "follow the execution log after starting")
	return cmd
}

// filesSocketID joins the files namespace only to learn the socket id a
// run without uploads still reports.
func (a *app) filesSocketID(ctx context.Context) (string, error) {
	m, err := a.realtime()
	if err != nil {
		return "", err
	}
	s := m.Socket(realtime.NamespaceFiles)
	if err := s.Connect(ctx); err != nil {
		return "", fmt.Errorf("connect files channel: %w", err)
	}
	defer s.Disconnect()
	return s.ID(), nil
}

func (a *app) showCredentials(ctx context.Context, system bots.System) {
	creds, err := a.bots.ListCredentials(ctx, system)
	if err != nil {
		return
	}
	a.term.Println("Credenciais disponíveis:")
	for _, c := range creds {
		if c.Value != nil {
			a.term.Println(fmt.Sprintf("  %d  %s", *c.Value, c.Text))
		}
	}
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
