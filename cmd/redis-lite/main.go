// Command redis-lite runs a single redis-lite node.
//
// Usage:
//
//	redis-lite [--port 6379] [--replicaof "<host> <port>"]
//
// Without --replicaof the node is a leader. With it the node follows the
// given leader for as long as it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	redislite "github.com/raniellyferreira/redis-lite"
)

func main() {
	port := flag.Int("port", redislite.DefaultPort, "Port to listen on")
	replicaOf := flag.String("replicaof", "", `Leader to follow, as "<host> <port>"`)
	flag.Parse()

	opts := []redislite.Option{redislite.WithPort(*port)}
	if *replicaOf != "" {
		host, leaderPort, err := parseReplicaOf(*replicaOf)
		if err != nil {
			log.Fatalf("Invalid --replicaof: %v", err)
		}
		opts = append(opts, redislite.WithReplicaOf(host, leaderPort))
	}

	node, err := redislite.New(opts...)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := node.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down...")

	if err := node.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// parseReplicaOf splits "<host> <port>"
func parseReplicaOf(value string) (string, int, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected \"<host> <port>\", got %q", value)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", fields[1])
	}
	return fields[0], port, nil
}
