package fitscube

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats are cumulative counts over the life of a Writer
type Stats struct {
	Frames   uint64 `json:"frames"`
	Errors   uint64 `json:"errors"`
	Timeouts uint64 `json:"timeouts"`
}

// Stats returns the counters of the writer
func (w *Writer) Stats() Stats {
	return Stats{
		Frames:   atomic.LoadUint64(&w.frames),
		Errors:   atomic.LoadUint64(&w.errs),
		Timeouts: atomic.LoadUint64(&w.timeouts),
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Collectors returns prometheus collectors that read the writer state on scrape
func (w *Writer) Collectors(namespace string) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "frames_written_total",
			Help:      "images written to FITS files",
		}, func() float64 { return float64(atomic.LoadUint64(&w.frames)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "write_errors_total",
			Help:      "failed FITS data writes",
		}, func() float64 { return float64(atomic.LoadUint64(&w.errs)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "timeouts_total",
			Help:      "waits for the extension sequence that ran out",
		}, func() float64 { return float64(atomic.LoadUint64(&w.timeouts)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "workers_in_flight",
			Help:      "FITS workers that have not finished",
		}, func() float64 { return float64(w.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "next_extension",
			Help:      "index of the next extension to be written",
		}, func() float64 { return float64(w.Extensions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fits",
			Name:      "file_open",
			Help:      "1 if a FITS file is open",
		}, func() float64 { return boolf(w.IsOpen()) }),
	}
}
