// Package preflight runs the environment checks behind `fundrag doctor`.
//
// Checks cover the data directory (writable, enough free space), the file
// descriptor limit the keyword index needs, the documents directory, the
// embedder, the on-disk index and the LLM endpoint settings:
//
//	results := preflight.New(cfg).RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // ingest or ask would fail
//	}
package preflight
