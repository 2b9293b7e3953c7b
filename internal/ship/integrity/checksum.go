// Package integrity computes and checks the structural checksum attached to ship
// documents, binds it to the server that saved the ship and enforces the blacklist.
//
// The checksum is a tamper deterrent, not a cryptographic guarantee: its position term
// is an additive sum that compensating edits can defeat.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"shipyard.ai/internal/persistence/shipdoc"
)

const (
	gridSep        = ";"
	enhancedTag    = ":ENH"
	boundPrefix    = "S:"
	bindingLen     = 8
	posModulus     = 10000
	maxKindGroups  = 10
	truncatedWidth = 4
)

// Base computes the current full checksum of every grid in doc.
func Base(doc *shipdoc.ShipDocument) string {
	return joinGrids(doc, true)
}

// Basic computes the legacy basic checksum, which lacks the container and component
// terms and leaves container parents out of the position term.
func Basic(doc *shipdoc.ShipDocument) string {
	return joinGrids(doc, false)
}

// Enhanced is Base with the legacy enhanced tag appended.
func Enhanced(doc *shipdoc.ShipDocument) string {
	return Base(doc) + enhancedTag
}

// Bind prefixes base with the binding of base to a server fingerprint.
func Bind(fingerprint, base string) string {
	return boundPrefix + bindingHash(fingerprint, base)[:bindingLen] + ":" + base
}

func bindingHash(fingerprint, base string) string {
	sum := sha256.Sum256([]byte(fingerprint + ":" + base))
	return hex.EncodeToString(sum[:])
}

func joinGrids(doc *shipdoc.ShipDocument, full bool) string {
	segs := make([]string, 0, len(doc.Grids))
	for i := range doc.Grids {
		segs = append(segs, Segment(&doc.Grids[i], full))
	}
	return strings.Join(segs, gridSep)
}

// Segment renders one grid. With full unset it renders the legacy basic form.
func Segment(g *shipdoc.GridDocument, full bool) string {
	var b strings.Builder
	b.WriteString("G")
	b.WriteString(g.GridID)

	tileTypes := make(map[string]int, 8)
	var pos int64
	for _, t := range g.Tiles {
		tileTypes[t.TileType]++
		pos += int64(t.X)*100 + int64(t.Y)
	}
	b.WriteString(":T")
	b.WriteString(strconv.Itoa(len(g.Tiles)))
	writeGroups(&b, tileTypes, 0)

	protos := make(map[string]int, 16)
	kinds := make(map[string]int, 16)
	containers, contained, comps := 0, 0, 0
	var parentHash int64
	for _, e := range g.Entities {
		protos[e.Prototype]++
		pos += int64(math.Round(e.Position.X*100)) + int64(math.Round(e.Position.Y*100))
		if e.IsContainer {
			containers++
		}
		if e.IsContained {
			contained++
			parentHash += int64(xxhash.Sum64String(e.ParentContainerEntityID) % posModulus)
		}
		for _, c := range e.Components {
			kinds[c.Type]++
			comps++
		}
	}
	b.WriteString(":E")
	b.WriteString(strconv.Itoa(len(g.Entities)))
	writeGroups(&b, protos, 0)

	if full {
		b.WriteString(":C")
		b.WriteString(strconv.Itoa(containers))
		b.WriteString("x")
		b.WriteString(strconv.Itoa(contained))
		b.WriteString(":CM")
		b.WriteString(strconv.Itoa(comps))
		writeGroups(&b, kinds, maxKindGroups)
		pos += parentHash
	}

	b.WriteString(":P")
	b.WriteString(strconv.FormatInt(normalizePos(pos), 10))
	return b.String()
}

// writeGroups emits "[<name[:4]><count>,...]" sorted by name. limit 0 means no limit.
func writeGroups(b *strings.Builder, counts map[string]int, limit int) {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	b.WriteString("[")
	for i, n := range names {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(truncate(n))
		b.WriteString(strconv.Itoa(counts[n]))
	}
	b.WriteString("]")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > truncatedWidth {
		r = r[:truncatedWidth]
	}
	return string(r)
}

func normalizePos(v int64) int64 {
	v %= posModulus
	if v < 0 {
		v += posModulus
	}
	return v
}
