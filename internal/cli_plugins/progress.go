package cliplugins

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"sigscan/internal/scanner"
	"sigscan/internal/walker"
)

const progressInterval = 200 * time.Millisecond

// progress redraws a single status line while a scan runs.
type progress struct {
	scanner.NopObserver

	out     io.Writer
	total   atomic.Int64
	scanned atomic.Int64
	flagged atomic.Int64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newProgress(out io.Writer) *progress {
	p := &progress{out: out, done: make(chan struct{})}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *progress) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.draw()
		case <-p.done:
			return
		}
	}
}

func (p *progress) draw() {
	scanned, flagged := p.scanned.Load(), p.flagged.Load()
	if total := p.total.Load(); total > 0 {
		fmt.Fprintf(p.out, "\r%d/%d files (%d%%), %d flagged ", scanned, total, scanned*100/total, flagged)
		return
	}
	fmt.Fprintf(p.out, "\r%d files, %d flagged ", scanned, flagged)
}

func (p *progress) stop() {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *progress) OnScanStarted(totals walker.Totals) {
	p.total.Store(totals.Files)
}

func (p *progress) OnFileScanned(scanner.Result) {
	p.scanned.Add(1)
}

func (p *progress) OnFileSkipped(scanner.Skipped) {
	p.scanned.Add(1)
}

func (p *progress) OnFileFlagged(scanner.Result) {
	p.flagged.Add(1)
}

func (p *progress) OnScanFinished(*scanner.Report) {
	p.stop()
	p.draw()
	fmt.Fprintln(p.out)
}
