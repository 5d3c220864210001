package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	previousLevel := log.GetLevel()
	previousFormatter := log.StandardLogger().Formatter
	defer func() {
		log.SetLevel(previousLevel)
		log.SetFormatter(previousFormatter)
	}()

	tests := map[string]struct {
		config         Config
		expectError    bool
		expectedLevel  log.Level
		expectJsonLogs bool
	}{
		"debug text": {
			config:        Config{Level: "debug", Format: "text"},
			expectedLevel: log.DebugLevel,
		},
		"warn json": {
			config:         Config{Level: "warn", Format: "json"},
			expectedLevel:  log.WarnLevel,
			expectJsonLogs: true,
		},
		"format is case insensitive": {
			config:         Config{Level: "error", Format: "JSON"},
			expectedLevel:  log.ErrorLevel,
			expectJsonLogs: true,
		},
		"invalid level": {
			config:      Config{Level: "chatty"},
			expectError: true,
		},
		"invalid format": {
			config:      Config{Level: "info", Format: "xml"},
			expectError: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Configure(tc.config)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedLevel, log.GetLevel())
			_, isJson := log.StandardLogger().Formatter.(*log.JSONFormatter)
			assert.Equal(t, tc.expectJsonLogs, isJson)
		})
	}
}
