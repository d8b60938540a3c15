// Command unisync serves screen definitions that use no Go actions. Apps
// with actions build their own binary around cli.NewRootCommand.
package main

import (
	"os"

	"github.com/roach88/unisync/internal/cli"
	"github.com/roach88/unisync/internal/screens"
)

func main() {
	if err := cli.NewRootCommand(screens.Actions{}).Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
