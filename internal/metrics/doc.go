/*
Package metrics exports field cache activity to Prometheus.

Collector implements field.Recorder, so handing it to field.NewManager is all the wiring a
program needs:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "fieldcache",
	}, logger)
	if err != nil {
		return err
	}
	mgr := field.NewManager(field.WithRecorder(collector))

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

Exported series (prefixed with the namespace):

	fetches_total{kind,result}        source fetches
	fetch_duration_seconds{kind}      fetch latency
	spills_total{result}              spill writes; result is success or an error code
	spill_bytes                       spill file sizes
	reloads_total{result}             spill reloads
	missing_reads_total{kind}         reads answered with missing data
	refreshes_total{kind,result}      periodic refreshes
	resident_elements                 float32 elements held in memory
	spill_files, spill_disk_bytes     spill directory footprint, see UpdateSpillStats

Besides /metrics the server answers /health and /debug/fetches, a JSON summary of fetches per
field kind since the last ResetSummaries.

A disabled collector has no registry and every Record method returns immediately.
*/
package metrics
