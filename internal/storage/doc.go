// Package storage is the SQLite-backed document store for members, prompt
// content, sent-prompt history and reflection responses.
//
// It also provides RunTransaction, the retrying transaction helper used by
// every read-modify-write path (including the notification ledger, which
// owns its own table SQL).
package storage
