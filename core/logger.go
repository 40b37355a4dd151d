package core

// Logger is any service that can log messages.
// args may hold errors, map[string]interface{} extras and the acting user; see services/logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the acting user attached to log entries.
type Person struct {
	ID       string
	Username string
	Email    string
}
