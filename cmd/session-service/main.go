package main

import (
	"os"

	"github.com/faultmaven/session-service/sessionservice"
)

func main() {
	if err := sessionservice.Run(); err != nil {
		os.Exit(1)
	}
}
