package scanner

import "sigscan/internal/walker"

// Observer receives scan progress. Methods may be called from several
// goroutines at once.
type Observer interface {
	OnScanStarted(totals walker.Totals)
	OnFileScanned(result Result)
	OnFileFlagged(result Result)
	OnFileSkipped(skipped Skipped)
	OnScanFinished(report *Report)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) OnScanStarted(walker.Totals) {}
func (NopObserver) OnFileScanned(Result)        {}
func (NopObserver) OnFileFlagged(Result)        {}
func (NopObserver) OnFileSkipped(Skipped)       {}
func (NopObserver) OnScanFinished(*Report)      {}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) OnScanStarted(totals walker.Totals) {
	for _, o := range m {
		o.OnScanStarted(totals)
	}
}

func (m MultiObserver) OnFileScanned(result Result) {
	for _, o := range m {
		o.OnFileScanned(result)
	}
}

func (m MultiObserver) OnFileFlagged(result Result) {
	for _, o := range m {
		o.OnFileFlagged(result)
	}
}

func (m MultiObserver) OnFileSkipped(skipped Skipped) {
	for _, o := range m {
		o.OnFileSkipped(skipped)
	}
}

func (m MultiObserver) OnScanFinished(report *Report) {
	for _, o := range m {
		o.OnScanFinished(report)
	}
}
