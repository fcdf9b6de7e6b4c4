package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusWritten = "written"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"

	OutcomeIndexed = "indexed"
	OutcomeReused  = "reused"
	OutcomeCreated = "created"
)

var (
	namespace = "diffusion_sweeper"

	imagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_total",
			Help:      "Seeds processed by the sweep, by result",
		},
		[]string{"status"},
	)

	synthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Time spent waiting for the synthesis service per seed",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	runDirectoriesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_directories_resolved_total",
			Help:      "Run directory resolutions, by how the directory was found",
		},
		[]string{"outcome"},
	)

	snapshotsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_skipped_total",
			Help:      "Snapshot files that could not be read or parsed during a scan",
		},
	)
)

func ImagesTotal(status string) {
	imagesTotal.With(prometheus.Labels{
		"status": status,
	}).Inc()
}

func SynthesisDuration(status string, duration time.Duration) {
	synthesisDuration.With(prometheus.Labels{
		"status": status,
	}).Observe(duration.Seconds())
}

func RunDirectoryResolved(outcome string) {
	runDirectoriesResolved.With(prometheus.Labels{
		"outcome": outcome,
	}).Inc()
}

func SnapshotSkipped() {
	snapshotsSkipped.Inc()
}

// WriteTextfile dumps every registered metric in the text exposition format,
// for node_exporter's textfile collector. A sweep is a batch job with no
// endpoint to scrape.
func WriteTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, prometheus.DefaultGatherer)
}
