package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/chazu/stackvm/stats"
	"github.com/chazu/stackvm/vm"
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
	ansiGrey  = "\x1b[90m"
	ansiRed   = "\x1b[31m"
)

func useColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type painter bool

func (p painter) paint(color, s string) string {
	if !p {
		return s
	}
	return color + s + ansiReset
}

func printStats(w io.Writer, s vm.Stats, color bool) {
	p := painter(color)
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", p.paint(ansiGrey, label), value)
	}
	fmt.Fprintln(w, p.paint(ansiGreen, "\n--- Program Terminated. STATS: ---"))
	row("CPU time:", formatDuration(s.CPUTime))
	row("User time:", formatDuration(s.UserTime))
	row("Instructions count:", humanize.Comma(int64(s.Instructions)))
	row("Objects cache hits/miss ratio:", fmt.Sprintf("%s/%s",
		humanize.Comma(int64(s.Pool.Hits)), humanize.Comma(int64(s.Pool.Misses))))
	row("Objects max live count:", humanize.Comma(int64(s.Pool.MaxLive)))
	row("Objects pool count:", humanize.Comma(int64(s.Pool.Available)))
	row("Fibers alive:", humanize.Comma(int64(s.Fibers)))
	row("Interned strings:", humanize.Comma(int64(s.Strings)))
	row("Heap slots:", fmt.Sprintf("%s in %s allocations",
		humanize.Comma(int64(s.HeapSlots)), humanize.Comma(int64(s.Allocations))))
}

// formatDuration rounds to a readable precision.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	default:
		return d.String()
	}
}

func printHistory(w io.Writer, runs []stats.Run, color bool) {
	p := painter(color)
	if len(runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return
	}
	for _, r := range runs {
		outcome := p.paint(ansiGreen, r.Outcome)
		if r.Outcome != stats.OutcomeOK {
			outcome = p.paint(ansiRed, r.Outcome)
		}
		fmt.Fprintf(w, "%s  %-9s %s  %s instructions in %s (%s)\n",
			p.paint(ansiGrey, r.ID.String()[:8]),
			outcome,
			r.Program,
			humanize.Comma(int64(r.Stats.Instructions)),
			formatDuration(r.Stats.UserTime),
			humanize.Time(r.Started))
		if r.Error != "" {
			fmt.Fprintf(w, "          %s\n", r.Error)
		}
	}
}
