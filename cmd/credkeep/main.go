package main

import (
	"os"

	"github.com/schmitthub/credkeep/internal/credkeep"
)

func main() {
	os.Exit(credkeep.Main())
}
