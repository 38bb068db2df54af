// Command gateway runs the registration and proxy gateway that fronts
// agent runtimes.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rickgao/agentlink/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/agentlink.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Run blocks until SIGINT or SIGTERM, then stops the app.
	newApp(cfg).Run()
}
