package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/REM-Infotech/crawjud-ui/internal/auth"
)

func loginCmd(opts *globalOptions) *cobra.Command {
	var userFlag string
	var rememberFlag bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			creds := auth.Credentials{Login: userFlag}
			saved, err := a.creds.Load()
			if err != nil {
				return err
			}
			if saved != nil && (creds.Login == "" || creds.Login == saved.Login) {
				creds = *saved
				rememberFlag = true
				a.term.Println("Usando credenciais salvas de", saved.Login)
			}

			in := bufio.NewReader(os.Stdin)
			if creds.Login == "" {
				if creds.Login, err = prompt(in, "Usuário: "); err != nil {
					return err
				}
			}
			if creds.Password == "" {
				if creds.Password, err = promptPassword(in, "Senha: "); err != nil {
					return err
				}
			}

			msg, err := auth.Login(cmd.Context(), a.client, a.creds, creds, rememberFlag)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Login efetuado com sucesso!"
			}
			a.term.Notify("Sucesso", msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "login name")
	cmd.Flags().BoolVar(&rememberFlag, "remember", false, "keep the credentials in the encrypted store")
	return cmd
}

func logoutCmd(opts *globalOptions) *cobra.Command {
	var forgetFlag bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := auth.Logout(cmd.Context(), a.client, a.creds, forgetFlag); err != nil {
				return err
			}
			a.term.Println("Sessão encerrada.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&forgetFlag, "forget", false, "also remove remembered credentials")
	return cmd
}

func sessionCmd(opts *globalOptions) *cobra.Command {
	var remoteFlag bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := auth.CurrentSession(a.client)
			if errors.Is(err, auth.ErrNoSession) {
				a.term.Println("Sem sessão. Execute `crawjud login`.")
				return nil
			}
			if err != nil {
				return err
			}
			a.term.Println("usuário:", info.Subject)
			if !info.ExpiresAt.IsZero() {
				a.term.Println("expira:", info.ExpiresAt.Local().Format(time.DateTime))
			}
			a.term.Println("válida:", info.IsValid())

			if remoteFlag {
				ok, err := a.client.ValidateSession(cmd.Context())
				if err != nil {
					return err
				}
				a.term.Println("aceita pelo servidor:", ok)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remoteFlag, "remote", false, "ask the backend whether the session is still accepted")
	return cmd
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(in *bufio.Reader, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(in, label)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
