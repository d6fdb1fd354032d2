package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pxtools/px/cmd/px/internal/cli"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
		<-sigs
		os.Exit(130)
	}()

	root, err := cli.NewRootCmd()
	if err != nil {
		os.Exit(2)
	}
	os.Exit(cli.Execute(ctx, root))
}
