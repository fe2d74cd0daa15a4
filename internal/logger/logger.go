package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger: a human-readable development logger in
// debug mode, JSON production logging otherwise.
func New(debug bool) *zap.Logger {
	if debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}

		return log
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	return log
}
