package payarmor

// Field is a structured log field. The helpers below build the fields the
// library attaches on nearly every path; less common keys are built literally.
type Field struct {
	Key   string
	Value interface{}
}

// TenantField tags a log line with the tenant whose traffic produced it.
func TenantField(tenantID string) Field {
	return Field{Key: "tenant_id", Value: tenantID}
}

// TxnField tags a log line with the payment transaction it concerns.
func TxnField(transactionID string) Field {
	return Field{Key: "transaction_id", Value: transactionID}
}

// ErrField attaches an error. Adapters may render it with their native error
// support rather than as a plain value.
func ErrField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is the structured logging interface the engine, recorder, and
// scheduler log through. The zero dependency default is NoopLogger; the
// logger/zerolog subpackage adapts rs/zerolog.
type Logger interface {
	// Debug logs a debug message with fields.
	Debug(msg string, fields ...Field)

	// Info logs an info message with fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning message with fields.
	Warn(msg string, fields ...Field)

	// Error logs an error message with fields.
	Error(msg string, fields ...Field)
}

// NoopLogger discards all log output.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
