package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/hive-corporation/cticollector/internal/adapter/handler"
)

// cli checks indicators against a running cticollector gRPC API and exits
// non-zero when any of them should be blocked.
//
//	cli 198.51.100.7 evil.example.com
//	cli -file observables.txt
func main() {
	targetFile := flag.String("file", "", "file with one indicator per line")
	serverAddr := flag.String("server", "localhost:50051", "CTI Collector gRPC address")
	showStats := flag.Bool("stats", false, "print store statistics")
	flag.Parse()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("❌ error connecting to CTI Collector: %v", err)
	}
	defer conn.Close()

	client := handler.NewIOCServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *showStats {
		resp, err := client.Stats(ctx)
		if err != nil {
			log.Fatalf("❌ error fetching stats: %v", err)
		}
		for k, v := range resp.AsMap() {
			fmt.Printf("%-16s %v\n", k, v)
		}
		return
	}

	values, err := collectValues(*targetFile, flag.Args())
	if err != nil {
		log.Fatalf("❌ error reading indicators: %v", err)
	}
	if len(values) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cli [-server addr] [-file path] [indicator...]")
		os.Exit(2)
	}

	fmt.Printf("🔍 checking %d indicators against %s...\n\n", len(values), *serverAddr)

	threatsFound := 0
	for _, v := range values {
		resp, err := client.CheckIOC(ctx, v)
		if status.Code(err) == codes.InvalidArgument {
			fmt.Printf("➖ [SKIPPED] %s (not an indicator)\n", v)
			continue
		}
		if err != nil {
			log.Printf("⚠️ error checking %s: %v", v, err)
			continue
		}

		fields := resp.AsMap()
		switch {
		case fields["action_block"] == true:
			fmt.Printf("🚨 [BLOCKED] %s -> %s %s (Score: %v, Sources: %v)\n",
				v, fields["type"], fields["threat_level"], fields["confidence_score"], fields["sources"])
			threatsFound++
		case fields["exists"] == true:
			fmt.Printf("⚠️ [KNOWN] %s -> %s %s\n", v, fields["type"], fields["threat_level"])
		default:
			fmt.Printf("✅ [CLEAN] %s\n", v)
		}
	}

	fmt.Println("------------------------------------------------")
	if threatsFound > 0 {
		fmt.Printf("❌ FAIL: %d malicious indicators found.\n", threatsFound)
		os.Exit(1)
	}
	fmt.Printf("✅ SUCCESS: %d indicators checked. No threats found.\n", len(values))
}

func collectValues(path string, args []string) ([]string, error) {
	values := append([]string(nil), args...)
	if path == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	return values, scanner.Err()
}
