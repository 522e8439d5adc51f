package fetch

import (
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/kibi"
)

// Observer receives progress notifications from a download.
// total is -1 when the server did not send a Content-Length.
// Callbacks are made on the downloading goroutine, so they must be quick.
type Observer interface {
	Started(name string, total int64)
	Progress(name string, written, total int64)
	Finished(name string, written int64, err error)
	Skipped(name string)
}

// NopObserver ignores all notifications
type NopObserver struct{}

func (NopObserver) Started(name string, total int64)               {}
func (NopObserver) Progress(name string, written, total int64)     {}
func (NopObserver) Finished(name string, written int64, err error) {}
func (NopObserver) Skipped(name string)                            {}

// MultiObserver forwards every notification to each of its members
type MultiObserver []Observer

func (m MultiObserver) Started(name string, total int64) {
	for _, o := range m {
		o.Started(name, total)
	}
}

func (m MultiObserver) Progress(name string, written, total int64) {
	for _, o := range m {
		o.Progress(name, written, total)
	}
}

func (m MultiObserver) Finished(name string, written int64, err error) {
	for _, o := range m {
		o.Finished(name, written, err)
	}
}

func (m MultiObserver) Skipped(name string) {
	for _, o := range m {
		o.Skipped(name)
	}
}

// LogObserver writes download progress to a log, in steps of 10%.
// Downloads of unknown size are logged once every 64 MB.
// A LogObserver may be shared by concurrent downloads.
type LogObserver struct {
	Log logs.Log

	lock sync.Mutex
	last map[string]int64 // name -> last logged step
}

func NewLogObserver(log logs.Log) *LogObserver {
	return &LogObserver{
		Log:  log,
		last: map[string]int64{},
	}
}

func (o *LogObserver) Started(name string, total int64) {
	if total >= 0 {
		o.Log.Infof("Downloading %v (%v)", name, kibi.FormatBytes(total))
	} else {
		o.Log.Infof("Downloading %v", name)
	}
	o.lock.Lock()
	o.last[name] = 0
	o.lock.Unlock()
}

func (o *LogObserver) Progress(name string, written, total int64) {
	var step int64
	if total > 0 {
		step = written * 10 / total
	} else {
		step = written / (64 * 1024 * 1024)
	}
	o.lock.Lock()
	prev := o.last[name]
	if step > prev {
		o.last[name] = step
	}
	o.lock.Unlock()
	if step <= prev {
		return
	}
	if total > 0 {
		o.Log.Infof("%v: %v%%", name, step*10)
	} else {
		o.Log.Infof("%v: %v", name, kibi.FormatBytes(written))
	}
}

func (o *LogObserver) Finished(name string, written int64, err error) {
	o.lock.Lock()
	delete(o.last, name)
	o.lock.Unlock()
	if err != nil {
		o.Log.Errorf("Download of %v failed: %v", name, err)
	} else {
		o.Log.Infof("Downloaded %v (%v)", name, kibi.FormatBytes(written))
	}
}

func (o *LogObserver) Skipped(name string) {
	o.Log.Infof("%v already exists, skipping download", name)
}
