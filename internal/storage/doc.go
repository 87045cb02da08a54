// Package storage keeps an append-only audit trail of collect+publish runs.
//
// The trail is write-mostly: it is read back only for operator inspection
// (the ops server's /runs endpoint) and never to decide what gets published.
package storage
