package main

import (
	"context"
	"log"

	"podforge/internal/config"
	"podforge/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("podforged: %v", err)
	}
}
