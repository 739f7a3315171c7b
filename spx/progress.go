package spx

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// barProgress drives one mpb bar for the lifetime of a single Get/Put call,
// grounded on guiperry-HASHER's 1_DATA_MINER processor.go (mpb.New +
// AddBar + Increment, generalized here to byte counts instead of file
// counts).
type barProgress struct {
	pool *mpb.Progress
	bar  *mpb.Bar
}

// NewProgress returns a Progress that renders a live bar when os.Stdout is
// a terminal (detected with github.com/mattn/go-isatty, as guiperry-HASHER's
// go.mod pulls in for its own CLI tooling), and a silent no-op otherwise.
func NewProgress() Progress {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return noProgress{}
	}
	return &barProgress{pool: mpb.New(mpb.WithWidth(64))}
}

func (p *barProgress) Start(total int64) {
	p.bar = p.pool.AddBar(total,
		mpb.PrependDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)
}

func (p *barProgress) Add(n int64) {
	if p.bar != nil {
		p.bar.IncrBy(int(n))
	}
}

func (p *barProgress) Done() {
	p.pool.Wait()
}
