// Package main starts the realtime session client and handles termination.
//
// The process keeps one persistent connection to the server, accepts game
// invitations, drives sessions through both rounds, and archives completed
// sessions to the local history store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/ayush-jaipuriar/only-yours/internal/cmd/client"
	"github.com/ayush-jaipuriar/only-yours/internal/platform/config"
)

func main() {
	cfg, err := clientcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[CLIENT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := clientcmd.Run(ctx, cfg); err != nil {
		config.Exitf("run client: %v", err)
	}
}
