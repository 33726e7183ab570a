package main

import (
	"os"

	"github.com/ormkit/morph"
)

// The bare binary manages migration directories without a model registry:
// generate needs registered models and is only useful from an embedding
// application, but apply, status and delete-range work from the unit files
// alone.
func main() {
	if err := morph.NewCLI(nil).Execute(); err != nil {
		os.Exit(1)
	}
}
