package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// remoteCmd queries the local-only admin endpoints of a running server.
func remoteCmd(args []string) {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	origin := fs.String("origin", "", "origin_grid_id (loads filter, required for fleet)")
	_ = fs.Parse(args)

	what := "blacklist"
	if fs.NArg() > 0 {
		what = strings.TrimSpace(fs.Arg(0))
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	switch what {
	case "blacklist":
		u += "/admin/v1/blacklist"
	case "loads":
		u += "/admin/v1/loads?origin=" + url.QueryEscape(*origin)
	case "fleet":
		u += "/admin/v1/fleet?origin=" + url.QueryEscape(*origin)
	default:
		fmt.Fprintln(os.Stderr, "unknown remote query:", what)
		os.Exit(2)
	}

	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
