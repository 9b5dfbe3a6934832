package app

// StopReason says why the app is shutting down; it ends up in logs and
// the final journal entries.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
	StopManual StopReason = "manual"
)
