package storage

// Package storage provides the local notification journal.
//
// It records what the engine actually showed and dismissed (not the alert
// records themselves, which stay with the backend), backs the alerts list
// view, and optionally persists dedup state so restarts inside the dedup
// window don't replay notifications.
