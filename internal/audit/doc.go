// Package audit keeps a trail of registry mutations, device option changes
// and sync passes in the audit_logs table.
//
// Writers go through a Recorder, which queues entries on a bounded channel
// and persists them from a single goroutine so request handlers and the
// reconciliation engine never wait on SQLite.
package audit
