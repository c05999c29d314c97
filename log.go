package combivox

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

var log = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	Prefix:          "combivox",
	ReportTimestamp: true,
})

// SetLogger replaces the package logger, e.g. to silence it in tests.
func SetLogger(l *charmlog.Logger) {
	log = l
}
