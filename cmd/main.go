package main

import (
	"context"
	"os"

	"github.com/mononoSaya/auto-novel/internal/cli"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

func main() {
	if err := cli.BuildCLI().ExecuteContext(context.Background()); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
