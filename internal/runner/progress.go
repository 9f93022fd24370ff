package runner

import (
	"strings"

	"stripd/pkg/types"
)

// percentEstimator maps the tool's log lines to a coarse, monotonically
// non-decreasing completion estimate. The tool gives no structured progress,
// so stage keywords are the best signal available.
type percentEstimator struct {
	sink types.ProgressSink
	cur  float64
}

var stageMarks = []struct {
	keyword string
	percent float64
}{
	{"preprocessing", 15},
	{"prediction", 40},
	{"mirror", 60},
	{"postprocessing", 80},
	{"exporting", 90},
}

func newPercentEstimator(sink types.ProgressSink) *percentEstimator {
	return &percentEstimator{sink: sink}
}

func (e *percentEstimator) start() { e.bump(5) }

func (e *percentEstimator) observe(line string) {
	l := strings.ToLower(line)
	for _, s := range stageMarks {
		if strings.Contains(l, s.keyword) {
			e.bump(s.percent)
		}
	}
}

func (e *percentEstimator) done() { e.bump(100) }

func (e *percentEstimator) bump(p float64) {
	if p <= e.cur {
		return
	}
	e.cur = p
	e.sink.Percent(p)
}
