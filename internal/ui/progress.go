package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressBar draws upload progress. Interactive terminals redraw in place;
// otherwise every quarter is printed on its own line. The reset to zero is
// not drawn.
type ProgressBar struct {
	t     *Terminal
	label string
	bar   progress.Model
	last  int
	drawn bool
}

// Progress returns the terminal's progress bar.
func (t *Terminal) Progress(label string) *ProgressBar {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress == nil {
		t.progress = &ProgressBar{
			t:    t,
			bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
			last: -1,
		}
	}
	t.progress.label = label
	return t.progress
}

// SetProgress implements upload.Progress.
func (p *ProgressBar) SetProgress(v int) {
	v = min(max(v, 0), 100)
	t := p.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if v == p.last {
		return
	}
	prev := p.last
	p.last = v
	if v == 0 {
		return
	}

	if t.Interactive {
		fmt.Fprintf(t.Out, "\r\033[K%s %s", p.label, p.bar.ViewAs(float64(v)/100))
		p.drawn = true
		if v == 100 {
			fmt.Fprintln(t.Out)
			p.drawn = false
		}
		return
	}
	if v == 100 || v/25 != max(prev, 0)/25 {
		fmt.Fprintf(t.Out, "%s %d%%\n", p.label, v)
	}
}

// Value is the last value drawn.
func (p *ProgressBar) Value() int {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return max(p.last, 0)
}
