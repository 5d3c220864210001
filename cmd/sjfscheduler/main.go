package main

import (
	"os"

	"github.com/armadaproject/sjfscheduler/cmd/sjfscheduler/cmd"
	"github.com/armadaproject/sjfscheduler/internal/common/logging"
)

func main() {
	logging.ConfigureCommandLineLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
