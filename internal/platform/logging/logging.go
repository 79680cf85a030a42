package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger: JSON to stdout, or a console writer in
// development.
func New(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
