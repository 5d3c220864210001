package logging

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config controls console logging.
type Config struct {
	// Log level, e.g. info, debug, error
	Level string
	// Either text or json
	Format string
}

// Configure replaces the settings of the standard logrus logger with those in config.
// Empty fields leave the current setting in place.
func Configure(config Config) error {
	if config.Level != "" {
		level, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		log.SetLevel(level)
	}
	formatter, err := formatterFor(config.Format)
	if err != nil {
		return err
	}
	if formatter != nil {
		log.SetFormatter(formatter)
	}
	return nil
}

func formatterFor(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "":
		return nil, nil
	case "text":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}, nil
	case "json":
		return &log.JSONFormatter{}, nil
	default:
		return nil, errors.Errorf("unknown log format %q, valid formats are text and json", format)
	}
}
