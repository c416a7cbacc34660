package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger logs to stdout tagged with the test name. Once the test is done
// the output moves to stderr, since room and member goroutines may outlive it.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
