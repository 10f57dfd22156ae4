package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
)

// terminalProgress draws a progress bar per stage, or a spinner when the total
// is unknown.
type terminalProgress struct {
	bar     *pterm.ProgressbarPrinter
	spinner *pterm.SpinnerPrinter
}

func (p *terminalProgress) Start(title string, total int) {
	p.Done()

	var err error
	if total > 0 {
		p.bar, err = pterm.DefaultProgressbar.
			WithTitle(title).
			WithTotal(total).
			WithWriter(os.Stderr).
			WithRemoveWhenDone(true).
			Start()
	} else {
		p.spinner, err = pterm.DefaultSpinner.
			WithWriter(os.Stderr).
			WithRemoveWhenDone(true).
			Start(title)
	}
	if err != nil {
		log.Debug().Err(err).Msg("progress display unavailable")
	}
}

func (p *terminalProgress) Increment() {
	if p.bar != nil && p.bar.Current < p.bar.Total {
		p.bar.Increment()
	}
}

func (p *terminalProgress) Done() {
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
	if p.spinner != nil {
		_ = p.spinner.Stop()
		p.spinner = nil
	}
}
