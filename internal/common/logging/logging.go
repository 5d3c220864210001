package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureCommandLineLogging sets sensible defaults for logging before any config has been read.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}
