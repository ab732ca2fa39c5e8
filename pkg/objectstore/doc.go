// Package objectstore provides a small client for the lifecycle of object
// storage containers with pluggable backends.
//
// The Client exposes container operations (create, properties, metadata,
// delete) and object operations (upload, list, download, delete) over any
// Backend. Implementations for memory, the local filesystem, S3, MinIO,
// PostgreSQL and a remote HTTP emulator live under storage/.
//
// Errors
//
// Every Client failure is an *Error whose Kind is one of conflict, not_found,
// auth, transient or validation. Use errors.Is with the package sentinels
// (ErrNotFound, ErrConflict, ...) or the Is* helpers to branch on them; the
// backend's cause stays in the chain.
//
// Streams
//
// UploadObject closes the source and DownloadObject closes the sink on every
// return path. Cancelling the context stops the transfer and backends never
// expose a partially uploaded object.
//
// Cleanup
//
// Scope collects releases of acquired resources (containers, local files) and
// runs them in reverse order, treating "already gone" as success and reporting
// every other failure.
package objectstore
