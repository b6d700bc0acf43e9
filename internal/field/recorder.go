package field

import "time"

// Recorder receives cache events. metrics.Collector implements it.
type Recorder interface {
	RecordFetch(kind string, duration time.Duration, ok bool)
	RecordSpill(bytes int64, duration time.Duration, err error)
	RecordReload(duration time.Duration, err error)
	RecordMissing(kind string)
	RecordRefresh(kind string, err error)
	AddResidentElements(delta int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, time.Duration, bool) {}
func (nopRecorder) RecordSpill(int64, time.Duration, error) {}
func (nopRecorder) RecordReload(time.Duration, error) {}
func (nopRecorder) RecordMissing(string) {}
func (nopRecorder) RecordRefresh(string, error) {}
func (nopRecorder) AddResidentElements(int64) {}

// Recorders fans events out to several recorders, in order. Nil entries are skipped.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) RecordFetch(kind string, d time.Duration, ok bool) {
	for _, r := range m {
		r.RecordFetch(kind, d, ok)
	}
}

func (m multiRecorder) RecordSpill(bytes int64, d time.Duration, err error) {
	for _, r := range m {
		r.RecordSpill(bytes, d, err)
	}
}

func (m multiRecorder) RecordReload(d time.Duration, err error) {
	for _, r := range m {
		r.RecordReload(d, err)
	}
}

func (m multiRecorder) RecordMissing(kind string) {
	for _, r := range m {
		r.RecordMissing(kind)
	}
}

func (m multiRecorder) RecordRefresh(kind string, err error) {
	for _, r := range m {
		r.RecordRefresh(kind, err)
	}
}

func (m multiRecorder) AddResidentElements(delta int64) {
	for _, r := range m {
		r.AddResidentElements(delta)
	}
}
