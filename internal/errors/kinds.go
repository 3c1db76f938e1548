// Package errors provides structured error handling for Nellie.
//
// Every error kind Nellie surfaces is one of a closed set of stable names
// (see Kind below), so callers can branch on `errors.GetKind(err)` instead
// of string-matching messages.
package errors

// Kind is a closed set of stable error classifications.
type Kind string

const (
	// KindConfig is an invalid configuration value (port 0, unknown log
	// level, empty host, threads out of 1..32).
	KindConfig Kind = "Config"

	// KindStorageDatabase is any database error not otherwise classified.
	KindStorageDatabase Kind = "Storage.Database"
	// KindStorageNotFound is a single-row lookup miss. Callers never log
	// this as an error; it translates to a natural "not found" result at
	// the tool boundary.
	KindStorageNotFound Kind = "Storage.NotFound"
	// KindStorageMigration is a schema evolution failure: fatal at
	// startup, non-fatal otherwise.
	KindStorageMigration Kind = "Storage.Migration"
	// KindStorageVector is a vector-table error, including a missing
	// vector extension.
	KindStorageVector Kind = "Storage.Vector"

	// KindEmbeddingRuntime is an inference failure.
	KindEmbeddingRuntime Kind = "Embedding.Runtime"
	// KindEmbeddingModelLoad is a missing or malformed model file.
	KindEmbeddingModelLoad Kind = "Embedding.ModelLoad"
	// KindEmbeddingTokenization is a tokenizer failure.
	KindEmbeddingTokenization Kind = "Embedding.Tokenization"
	// KindEmbeddingWorkerPool is a pool-not-initialized or send/recv
	// failure.
	KindEmbeddingWorkerPool Kind = "Embedding.WorkerPool"

	// KindWatcherWatchFailed is a failure to establish a filesystem watch.
	KindWatcherWatchFailed Kind = "Watcher.WatchFailed"
	// KindWatcherProcessFailed is a failure while processing a watch
	// event.
	KindWatcherProcessFailed Kind = "Watcher.ProcessFailed"
	// KindWatcherIndexing is a failure during the indexing triggered by a
	// watch event.
	KindWatcherIndexing Kind = "Watcher.Indexing"

	// KindServerBindFailed is a failure to bind the server's listen
	// address.
	KindServerBindFailed Kind = "Server.BindFailed"
	// KindServerRequest is a malformed or invalid external request.
	KindServerRequest Kind = "Server.Request"
	// KindServerMcp is a tool-dispatch-layer failure.
	KindServerMcp Kind = "Server.Mcp"

	// KindIo is a generic file/disk I/O error.
	KindIo Kind = "Io"
	// KindInternal is an unexpected internal error.
	KindInternal Kind = "Internal"
)

// retryableKinds are kinds for which a caller may reasonably retry the same
// operation without changing its input.
var retryableKinds = map[Kind]bool{
	KindStorageDatabase:     true,
	KindEmbeddingWorkerPool: true,
	KindWatcherWatchFailed:  true,
}

func isRetryableKind(k Kind) bool {
	return retryableKinds[k]
}
