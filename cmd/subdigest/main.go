package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // subscriber timezones on hosts without zoneinfo

	"github.com/ppiankov/subdigest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
