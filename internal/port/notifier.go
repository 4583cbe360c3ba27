package port

// Notifier announces outcomes to a human. Calls are fire-and-forget.
type Notifier interface {
	Success(message string)
	Error(message string)
	Warning(message string)
	Info(message string)
}
