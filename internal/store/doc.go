// Package store defines the persistence contracts of the acquisition
// pipeline: document blobs, acquisition records, batches and completion
// events. Implementations live in internal/storage and internal/publisher;
// this package must not import database drivers or concrete clients.
package store
