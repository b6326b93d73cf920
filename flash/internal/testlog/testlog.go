// Package testlog provides an hclog.Logger that writes to a testing.T,
// matching the pattern the teacher's test suite uses throughout
// (testlog.HCLogger(t)).
package testlog

import (
	"testing"

	hclog "github.com/hashicorp/go-hclog"
)

// HCLogger returns a logger that writes through t.Logf, at debug level,
// named after the running test.
func HCLogger(t *testing.T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            t.Name(),
		Level:           hclog.Debug,
		Output:          testWriter{t},
		IncludeLocation: true,
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
