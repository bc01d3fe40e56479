package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/pnp-exchange/mentions-bot/internal/monitoring"
	"github.com/pnp-exchange/mentions-bot/internal/sources"
	"github.com/pnp-exchange/mentions-bot/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	fmt.Println("pnp.exchange Mentions Bot - API Connectivity Test")
	fmt.Println(strings.Repeat("=", 50))

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := sources.NewTwitterClient(cfg.TwitterBearerToken)
	if !client.IsEnabled() {
		log.Fatal("Twitter/X client disabled (missing TWITTER_BEARER_TOKEN)")
	}

	// Backfill never writes, the sink only satisfies the constructor.
	sink := storage.NewDocumentSink(storage.NewLocalStorage(""), "test-apis-mentions.json")
	service := monitoring.NewService(cfg, client, sink, monitoring.NewMemoryWatermark(), nil,
		monitoring.NewMetrics(prometheus.NewRegistry()))

	fmt.Printf("\nSearching recent mentions of @%s...\n", cfg.TargetAccount)
	fmt.Println(strings.Repeat("-", 50))

	top, ok := service.Prime(ctx)
	if !ok {
		fmt.Println("Priming: no mention id returned (see logs for the failure category)")
	} else {
		fmt.Printf("Priming: newest mention id %s\n", top)
	}

	doc, err := service.Backfill(ctx)
	if err != nil {
		fmt.Printf("Backfill: ERROR %v\n", err)
		return
	}

	fmt.Printf("Backfill: %d qualifying mentions in the last 7 days\n", doc.Metadata.Count)
	for i, mention := range doc.Tweets {
		if i == 5 {
			fmt.Printf("   ... and %d more\n", len(doc.Tweets)-i)
			break
		}
		fmt.Printf("   %s  %s  %s\n", mention.ID, mention.LinkedIDValue(), mention.CreatedAt)
	}

	fmt.Println("\nAPI connectivity test completed")
}
