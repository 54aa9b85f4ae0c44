// Package integration holds end-to-end tests: documents are ingested from
// disk through the index runner and answered through the retrieval
// orchestrator, with a scripted model standing in for the LLM.
package integration
