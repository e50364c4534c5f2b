package msock

import "testing"

func TestCheckOptions_Defaults(t *testing.T) {
	var opts options
	checkOptions(&opts)

	if opts.logger == nil {
		t.Error("logger not defaulted")
	}
	if opts.logger != defaultLogger() {
		t.Error("default logger is not the slog default")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}

	var opts options
	LoggerOption(logger)(&opts)
	checkOptions(&opts)

	if opts.logger != logger {
		t.Error("LoggerOption did not set the logger")
	}
}

func TestWithHandleLimit(t *testing.T) {
	reg := NewRegistry(WithHandleLimit(3))

	if reg.limit != 3 {
		t.Errorf("limit = %d, want 3", reg.limit)
	}
}
