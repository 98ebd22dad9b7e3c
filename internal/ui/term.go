// Package ui renders the command line side of the client: notices,
// progress, tables and log lines.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/REM-Infotech/crawjud-ui/internal/realtime"
)

// Terminal writes styled output. It implements the notifier, progress and
// navigator hooks of the other packages.
type Terminal struct {
	Out   io.Writer
	Err   io.Writer
	Theme Theme
	// Interactive enables in-place redraws.
	Interactive bool

	mu            sync.Mutex
	loginRequired string
	fatal         string
	progress      *ProgressBar
}

// NewTerminal styles output when stdout is a terminal.
func NewTerminal() *Terminal {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	t := &Terminal{Out: os.Stdout, Err: os.Stderr, Theme: DefaultTheme(), Interactive: interactive}
	if !interactive {
		t.Theme = plainTheme()
	}
	return t
}

// NewPlain returns a Terminal without styling, for tests and pipes.
func NewPlain(out, errw io.Writer) *Terminal {
	return &Terminal{Out: out, Err: errw, Theme: plainTheme()}
}

func plainTheme() Theme {
	s := lipgloss.NewStyle()
	return Theme{Title: s, Success: s, Error: s, Warning: s, Info: s, Muted: s, Header: s, Cell: s.Padding(0, 1), Border: s}
}

// Notify prints a titled notice.
func (t *Terminal) Notify(title, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLine()
	fmt.Fprintf(t.Out, "%s %s\n", t.Theme.Success.Render(title+":"), message)
}

// ToLogin records that the session ended and tells the user how to recover.
func (t *Terminal) ToLogin(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loginRequired = reason
	t.clearLine()
	fmt.Fprintf(t.Err, "%s %s\n", t.Theme.Warning.Render(reason+"."), t.Theme.Muted.Render("Run `crawjud login` to sign in again."))
}

// Fatal prints an error notice.
func (t *Terminal) Fatal(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fatal = message
	t.clearLine()
	fmt.Fprintln(t.Err, t.Theme.Error.Render("Erro: "+message))
}

// LoginRequired reports the reason of the last redirect to login, if any.
func (t *Terminal) LoginRequired() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loginRequired, t.loginRequired != ""
}

func (t *Terminal) Errorf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLine()
	fmt.Fprintln(t.Err, t.Theme.Error.Render(fmt.Sprintf(format, args...)))
}

func (t *Terminal) Println(args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.Out, args...)
}

func (t *Terminal) Title(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.Out, t.Theme.Title.Render(s))
}

// LogLine prints one bot log message.
func (t *Terminal) LogLine(m realtime.LogMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLine()
	var b strings.Builder
	if m.TimeMessage != "" {
		b.WriteString(t.Theme.Muted.Render(m.TimeMessage))
		b.WriteByte(' ')
	}
	if m.Row > 0 {
		fmt.Fprintf(&b, "#%d ", m.Row)
	}
	b.WriteString(t.Theme.ForMessageType(m.MessageType).Render(m.Message))
	if m.Link != "" {
		b.WriteByte(' ')
		b.WriteString(t.Theme.Muted.Render(m.Link))
	}
	fmt.Fprintln(t.Out, b.String())
}

// Table prints rows under headers.
func (t *Terminal) Table(headers []string, rows [][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(rows) == 0 {
		fmt.Fprintln(t.Out, t.Theme.Muted.Render("(nenhum registro)"))
		return
	}
	theme := t.Theme
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(theme.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		})
	fmt.Fprintln(t.Out, tbl.Render())
}

// clearLine erases an in-place progress bar before other output.
// Callers hold t.mu.
func (t *Terminal) clearLine() {
	if t.Interactive && t.progress != nil && t.progress.drawn {
		fmt.Fprint(t.Out, "\r\033[K")
		t.progress.drawn = false
	}
}
