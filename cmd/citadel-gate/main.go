package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BrandonDHaskell/Citadel/gate/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(cli.UnpluggedDevices())
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "citadel-gate:", err)
		os.Exit(1)
	}
}
