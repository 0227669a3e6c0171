// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the praxis entrypoint. It stays minimal; all
// wiring lives in app.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	prompt := flag.String("prompt", "", "user prompt for a single turn")
	planPath := flag.String("plan", "", "path to a plan file to execute instead of a single turn")
	flag.Parse()

	if *prompt == "" && *planPath == "" {
		fmt.Fprintln(os.Stderr, "usage: praxis -prompt \"...\" | -plan plan.yaml [-config config.yaml]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := newApp(*cfgPath)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer application.Close(ctx)

	if *planPath != "" {
		if err := application.RunPlan(ctx, *planPath); err != nil {
			log.Fatalf("plan failed: %v", err)
		}
		return
	}

	if err := application.RunTurn(ctx, *prompt); err != nil {
		log.Fatalf("turn failed: %v", err)
	}
}
