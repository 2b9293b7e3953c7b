package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"shipyard.ai/internal/config"
	"shipyard.ai/internal/persistence/blacklist"
	persistlog "shipyard.ai/internal/persistence/log"
	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/persistence/shipstore"
	"shipyard.ai/internal/ship"
	"shipyard.ai/internal/ship/components"
	"shipyard.ai/internal/ship/identity"
	"shipyard.ai/internal/ship/integrity"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "blacklist":
			blacklistCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "remote":
			remoteCmd(os.Args[2:])
			return
		case "kinds":
			kindsCmd()
			return
		}
	}
	listCmd(os.Args[1:])
}

// kindsCmd prints every component kind and how documents store it.
func kindsCmd() {
	for _, k := range components.All() {
		fmt.Printf("%s\t%s\n", k, components.StrategyOf(k))
	}
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

// listCmd lists archived ships in the ship library.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	configPath := fs.String("config", "./configs/shipyard.yaml", "server config path")
	owner := fs.String("owner", "", "owner id (optional)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	entries, err := shipstore.New(cfg.ShipsDir).List(*owner)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.Header.SavedAt.Format(time.RFC3339), e.Header.OwnerID, e.Header.ShipName, e.Path)
	}
}

func blacklistCmd(args []string) {
	fs := flag.NewFlagSet("blacklist", flag.ExitOnError)
	configPath := fs.String("config", "./configs/shipyard.yaml", "server config path")
	file := fs.String("file", "", "blacklist file (default: from config)")
	reason := fs.String("reason", "", "reason recorded with add")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*file)
	if path == "" {
		path = loadConfig(*configPath).BlacklistFile
	}
	bl := blacklist.Open(path)

	op := "list"
	if fs.NArg() > 0 {
		op = fs.Arg(0)
	}
	switch op {
	case "list":
		entries, err := bl.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.Checksum, e.AddedAt, e.Reason)
		}
	case "add", "remove":
		if fs.NArg() < 2 || strings.TrimSpace(fs.Arg(1)) == "" {
			fmt.Fprintf(os.Stderr, "usage: admin blacklist %s <checksum>\n", op)
			os.Exit(2)
		}
		sum := strings.TrimSpace(fs.Arg(1))
		if op == "add" {
			if err := bl.Add(sum, *reason); err != nil {
				fmt.Fprintln(os.Stderr, "add:", err)
				os.Exit(1)
			}
			fmt.Println("added")
			return
		}
		ok, err := bl.Remove(sum)
		if err != nil {
			fmt.Fprintln(os.Stderr, "remove:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("not listed")
			os.Exit(1)
		}
		fmt.Println("removed")
	default:
		fmt.Fprintln(os.Stderr, "unknown blacklist op:", op)
		os.Exit(2)
	}
}

// readShipFile accepts either a library file (.ship.zst) or plain document text.
func readShipFile(path string) (*shipstore.Header, []byte, error) {
	if strings.HasSuffix(path, ".ship.zst") {
		h, text, err := shipstore.Read(path)
		if err != nil {
			return nil, nil, err
		}
		return &h, text, nil
	}
	text, err := os.ReadFile(path)
	return nil, text, err
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect <file>")
		os.Exit(2)
	}
	hdr, text, err := readShipFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	doc, err := shipdoc.Decode(text)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}

	type gridSummary struct {
		GridID     string `json:"grid_id"`
		Tiles      int    `json:"tiles"`
		Entities   int    `json:"entities"`
		Containers int    `json:"containers"`
		Contained  int    `json:"contained"`
		HasDecals  bool   `json:"has_decals"`
	}
	out := struct {
		Header   *shipstore.Header `json:"header,omitempty"`
		Metadata shipdoc.Metadata  `json:"metadata"`
		Format   integrity.Format  `json:"checksum_format"`
		Legacy   bool              `json:"legacy_containers"`
		Grids    []gridSummary     `json:"grids"`
	}{
		Header:   hdr,
		Metadata: doc.Metadata,
		Format:   integrity.Detect(doc.Metadata.Checksum),
		Legacy:   doc.IsLegacy(),
	}
	for _, g := range doc.Grids {
		s := gridSummary{GridID: g.GridID, Tiles: len(g.Tiles), Entities: len(g.Entities), HasDecals: g.DecalBlob != ""}
		for _, e := range g.Entities {
			if e.IsContainer {
				s.Containers++
			}
			if e.IsContained {
				s.Contained++
			}
		}
		out.Grids = append(out.Grids, s)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

// verifyCmd runs load validation without touching a live world.
func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "./configs/shipyard.yaml", "server config path")
	caller := fs.String("caller", "", "caller id (default: the document owner)")
	serverID := fs.String("server_id", "", "fixed server fingerprint (default: derived from host signals)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin verify [-caller id] <file>")
		os.Exit(2)
	}
	cfg := loadConfig(*configPath)

	_, text, err := readShipFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	doc, err := shipdoc.Decode(text)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	var ident identity.Source = identity.NewDefault()
	if id := strings.TrimSpace(*serverID); id != "" {
		ident = identity.Static(id)
	}
	who := strings.TrimSpace(*caller)
	if who == "" {
		who = doc.Metadata.OwnerID
	}
	v := &integrity.Validator{Identity: ident, Blacklist: blacklist.Open(cfg.BlacklistFile)}
	res, err := v.Verify(doc, who)
	if err != nil {
		fmt.Printf("rejected\t%s\t%v\n", ship.Code(err), err)
		os.Exit(1)
	}
	fmt.Printf("accepted\tformat=%s\tmigrated=%v\n", res.Format, res.Migrated)
	for _, w := range res.Warnings {
		fmt.Println("warning:", w)
	}
}

// auditCmd prints audit entries, oldest file first, optionally filtered.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", "./configs/shipyard.yaml", "server config path")
	op := fs.String("op", "", "save|load (optional)")
	outcome := fs.String("outcome", "", "accepted|rejected (optional)")
	caller := fs.String("caller", "", "caller id filter (optional)")
	since := fs.Duration("since", 0, "only entries newer than this (optional)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	filter := persistlog.AuditFilter{Op: *op, Outcome: *outcome, CallerID: *caller}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	recs, err := persistlog.ReadAudit(cfg.AuditDir, filter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Time.Format(time.RFC3339), r.Op, r.Outcome, r.CallerID, r.ShipName, r.Code, r.Reason)
	}
}
