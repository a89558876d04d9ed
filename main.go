package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/niktheblak/switchbot-influxdb/cmd"
	"github.com/niktheblak/switchbot-influxdb/internal/config"
)

func main() {
	if err := cmd.Execute(); err != nil {
		code := exitCode(err)
		if code == 2 {
			fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		}
		os.Exit(code)
	}
}

// exitCode is 2 for invalid configuration and 1 for any other failure
func exitCode(err error) int {
	var se *config.StartupError
	if errors.As(err, &se) {
		return 2
	}
	return 1
}
