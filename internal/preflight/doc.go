// Package preflight validates the environment before a pipeline run.
//
// `conrag doctor` runs the full set; `conrag index` re-runs the cheap
// local checks when the marker file is missing. Local checks cover the
// data directory, disk space, file descriptor limits and API keys.
// Upstream checks probe the partition service, the object store and
// the embedding endpoint, and are skipped in offline mode.
//
//	checker := preflight.New(
//		preflight.WithConfig(cfg),
//		preflight.WithPartition(client),
//	)
//	results := checker.RunAll(ctx, root)
//	if checker.HasCriticalFailures(results) {
//		os.Exit(1)
//	}
package preflight
