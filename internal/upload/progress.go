package upload

import (
	"context"
	"math"
	"time"
)

// Progress displays the upload percentage, 0 to 100.
type Progress interface {
	SetProgress(percent int)
}

// Notifier shows a user-facing notice.
type Notifier interface {
	Notify(title, message string)
}

type nopProgress struct{}

func (nopProgress) SetProgress(int) {}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// progressBar walks the displayed value one unit at a time toward its
// target so the bar moves smoothly. It never moves backwards except on reset.
type progressBar struct {
	out     Progress
	step    time.Duration
	current int
}

func (b *progressBar) animateTo(ctx context.Context, target int) {
	if target > 100 {
		target = 100
	}
	for b.current < target {
		b.current++
		b.out.SetProgress(b.current)
		if b.step > 0 && b.current < target {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.step):
			}
		}
	}
}

func (b *progressBar) reset() {
	b.current = 0
	b.out.SetProgress(0)
}

// percent is round(100*sent/total); an empty batch counts as complete.
func percent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(sent) / float64(total)))
}
