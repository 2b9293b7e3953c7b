package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"shipyard.ai/internal/persistence/ledger"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	configPath := fs.String("config", "./configs/shipyard.yaml", "server config path")
	dbPath := fs.String("db", "", "ledger db path (default: from config)")
	origin := fs.String("origin", "", "origin_grid_id filter (loads)")
	owner := fs.String("owner", "", "owner id filter (saves)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "loads"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = loadConfig(*configPath).LedgerDB
	}
	l, err := ledger.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer l.Close()
	ctx := context.Background()

	switch q {
	case "loads":
		recs, err := l.Loads(ctx, strings.TrimSpace(*origin), *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range recs {
			printJSON(r)
		}
	case "saves":
		if strings.TrimSpace(*owner) == "" {
			fmt.Fprintln(os.Stderr, "missing -owner")
			os.Exit(2)
		}
		recs, err := l.Saves(ctx, strings.TrimSpace(*owner), *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range recs {
			printJSON(r)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
