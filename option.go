package msock

// options holds the configuration for a message socket.
type options struct {
	logger Logger
}

// Option is a function that configures a message socket created by Start.
type Option func(*options)

// checkOptions sets default values for socket options.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
