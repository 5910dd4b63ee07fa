// Command info-diff compares the INFO output of a leader and a follower:
// keyspace counts per database and the replication identity.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	var refAddr = flag.String("ref", "", "Leader endpoint (host:port)")
	var sutAddr = flag.String("sut", "", "Follower endpoint (host:port)")
	var dbsFlag = flag.String("dbs", "", "Comma-separated list of database numbers to compare (e.g., 0,1)")
	var timeout = flag.Duration("timeout", 5*time.Second, "Timeout for each INFO request")
	var helpFlag = flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *helpFlag || *refAddr == "" || *sutAddr == "" {
		fmt.Println("INFO Comparison Tool")
		fmt.Println("====================")
		fmt.Println("Usage: info-diff --ref=host:port --sut=host:port [--dbs=0,1]")
		fmt.Println("")
		fmt.Println("Flags:")
		fmt.Println("  --ref      Leader endpoint (e.g., localhost:6379)")
		fmt.Println("  --sut      Follower endpoint (e.g., localhost:6380)")
		fmt.Println("  --dbs      Optional: Specific database numbers to compare")
		fmt.Println("  --timeout  Timeout for each INFO request (default 5s)")
		fmt.Println("  --help     Show this help message")
		os.Exit(0)
	}

	// Parse database filter if provided
	var dbFilter map[int]bool
	if *dbsFlag != "" {
		dbFilter = make(map[int]bool)
		for _, dbStr := range strings.Split(*dbsFlag, ",") {
			if db, err := strconv.Atoi(strings.TrimSpace(dbStr)); err == nil {
				dbFilter[db] = true
			}
		}
	}

	fmt.Printf("Comparing INFO:\n")
	fmt.Printf("  Leader:   %s\n", *refAddr)
	fmt.Printf("  Follower: %s\n", *sutAddr)
	fmt.Println()

	ref, err := fetchInfo(*refAddr, *timeout)
	if err != nil {
		log.Fatalf("Failed to get INFO from leader %s: %v", *refAddr, err)
	}
	sut, err := fetchInfo(*sutAddr, *timeout)
	if err != nil {
		log.Fatalf("Failed to get INFO from follower %s: %v", *sutAddr, err)
	}

	report := compare(ref, sut, dbFilter)
	for _, line := range report.lines {
		fmt.Println(line)
	}

	fmt.Println()
	if report.differences == 0 {
		fmt.Println("SUCCESS: no critical differences found")
	} else {
		fmt.Printf("FAILURE: %d critical differences found\n", report.differences)
		os.Exit(1)
	}
}

// fetchInfo reads the full INFO report of the node at addr
func fetchInfo(addr string, timeout time.Duration) (string, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
		ReadTimeout: timeout,
		MaxRetries:  1,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return client.Info(ctx).Result()
}
