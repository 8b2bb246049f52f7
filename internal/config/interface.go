package config

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Command returns the command word, or "" when none was given.
func (c *Config) Command() string {
	if len(c.Args) == 0 {
		return ""
	}

	return c.Args[0]
}

// Operands returns the positional arguments after the command word.
func (c *Config) Operands() []string {
	if len(c.Args) < 2 {
		return nil
	}

	return c.Args[1:]
}
