package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obdsim/canproxy/cmd/canproxy/cmd"
	// Init adapters
	_ "github.com/obdsim/canproxy/adapter"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Setup interupt handler for ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-quitChan
		log.Printf("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(15 * time.Second)
		log.Fatal("took to long to shutdown, forcefully exiting")
	}()

	if err := cmd.Execute(ctx); err != nil {
		code := cmd.ExitCode(err)
		if code == cmd.ExitStartup {
			fmt.Fprintf(os.Stderr, "canproxy: %v\n", err)
		}
		os.Exit(code)
	}
}
