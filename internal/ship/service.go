// Package ship saves live grids as sealed ship documents and loads them back.
//
// Load runs parse, validation and reconstruction strictly in that order; nothing is
// spawned unless the document was accepted.
package ship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shipyard.ai/internal/persistence/ledger"
	persistlog "shipyard.ai/internal/persistence/log"
	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/persistence/shipstore"
	"shipyard.ai/internal/ship/codec"
	"shipyard.ai/internal/ship/integrity"
	"shipyard.ai/internal/ship/rebuild"
	"shipyard.ai/internal/sim/live"
)

// Ledger is the part of the load/save ledger the service needs.
type Ledger interface {
	RecordSave(ctx context.Context, r ledger.SaveRecord) error
	RecordLoad(ctx context.Context, r ledger.LoadRecord) error
	PriorLoads(ctx context.Context, originGridID, checksum string) (int, error)
}

type Auditor interface {
	WriteAudit(e persistlog.AuditEntry) error
}

// Mirror receives the path of every archived ship file.
type Mirror interface {
	Enqueue(localPath string)
}

type Service struct {
	Graph     live.Graph
	Decals    live.DecalExporter // optional
	Validator *integrity.Validator
	Engine    *rebuild.Engine

	Ledger  Ledger           // optional
	Library *shipstore.Store // optional
	Audit   Auditor          // optional
	Mirror  Mirror           // optional, used by Archive

	// RejectDuplicateLoads turns a repeated load of the same saved ship into an
	// authorization failure instead of a warning.
	RejectDuplicateLoads bool

	Logger *log.Logger
	Now    func() time.Time
	Tracer trace.Tracer // defaults to the global provider

	// mu serialises Save and Load; the live graph is driven by one caller at a time.
	mu sync.Mutex
}

type SaveResult struct {
	Text     []byte
	Checksum string
	Doc      *shipdoc.ShipDocument
	Stats    codec.Stats
}

type LoadResult struct {
	Grid      live.GridID
	Grids     []live.GridID
	Migrated  bool
	Duplicate bool
	Format    integrity.Format
	Report    *rebuild.Report
	Warnings  []string

	State  State
	Trace  []State
	Reason string // set when State is Rejected
}

func (r *LoadResult) advance(s State) {
	if !CanTransition(r.State, s) {
		panic(fmt.Sprintf("ship: invalid load transition %s -> %s", r.State, s))
	}
	r.State = s
	r.Trace = append(r.Trace, s)
}

func (s *Service) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer("shipyard.ai/internal/ship")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
	}
	span.End()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Save encodes grid, seals the checksum to this server and renders the document text.
func (s *Service) Save(ctx context.Context, grid live.GridID, ownerID, shipName string) (res *SaveResult, err error) {
	ctx, span := s.tracer().Start(ctx, "ship.Save", trace.WithAttributes(
		attribute.String("ship.grid_id", string(grid)),
		attribute.String("ship.owner_id", ownerID),
	))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, grid, ownerID, shipName)
}

func (s *Service) saveLocked(ctx context.Context, grid live.GridID, ownerID, shipName string) (*SaveResult, error) {
	if s.Validator == nil {
		return nil, errors.New("ship: no validator")
	}
	enc := &codec.Encoder{Graph: s.Graph, Decals: s.Decals, Logger: s.Logger, Now: s.Now}
	doc, stats, err := enc.Encode(grid, ownerID, shipName)
	if err != nil {
		return nil, err
	}
	sum, err := s.Validator.Seal(doc)
	if err != nil {
		return nil, err
	}
	text, err := shipdoc.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if s.Ledger != nil {
		rec := ledger.SaveRecord{Checksum: sum, OriginGridID: string(grid), OwnerID: ownerID, ShipName: shipName, At: doc.Metadata.CreatedAt}
		if err := s.Ledger.RecordSave(ctx, rec); err != nil {
			s.logger().Printf("save %q: %v", shipName, err)
		}
	}
	s.audit(persistlog.AuditEntry{
		Op: "save", Outcome: "accepted", CallerID: ownerID, ShipName: shipName,
		OriginGridID: string(grid), Checksum: sum,
	})
	s.logger().Printf("ship saved: owner=%s name=%q entities=%d dropped_components=%d", ownerID, shipName, stats.Entities, stats.DroppedComponents)
	return &SaveResult{Text: text, Checksum: sum, Doc: doc, Stats: stats}, nil
}

// Archive saves grid and also stores the text in the ship library.
func (s *Service) Archive(ctx context.Context, grid live.GridID, ownerID, shipName string) (_ string, _ *SaveResult, err error) {
	ctx, span := s.tracer().Start(ctx, "ship.Archive", trace.WithAttributes(
		attribute.String("ship.grid_id", string(grid)),
		attribute.String("ship.owner_id", ownerID),
	))
	defer func() { endSpan(span, err) }()

	if s.Library == nil {
		return "", nil, errors.New("ship: no ship library configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.saveLocked(ctx, grid, ownerID, shipName)
	if err != nil {
		return "", nil, err
	}
	path, err := s.Library.Write(shipstore.Header{
		OwnerID:      ownerID,
		ShipName:     shipName,
		OriginGridID: string(grid),
		Checksum:     res.Checksum,
		SavedAt:      res.Doc.Metadata.CreatedAt,
	}, res.Text)
	if err != nil {
		return "", res, err
	}
	if s.Mirror != nil {
		s.Mirror.Enqueue(path)
	}
	return path, res, nil
}

// Load validates text for callerID and rebuilds it into the live graph. On failure the
// returned result is still non-nil and records where the load stopped.
func (s *Service) Load(ctx context.Context, text []byte, callerID string) (res *LoadResult, err error) {
	ctx, span := s.tracer().Start(ctx, "ship.Load", trace.WithAttributes(
		attribute.String("ship.caller_id", callerID),
		attribute.Int("ship.document_bytes", len(text)),
	))
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("ship.state", res.State.String()),
				attribute.String("ship.checksum_format", string(res.Format)),
				attribute.Bool("ship.migrated", res.Migrated),
				attribute.Bool("ship.duplicate", res.Duplicate),
			)
		}
		endSpan(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, text, callerID)
}

func (s *Service) loadLocked(ctx context.Context, text []byte, callerID string) (*LoadResult, error) {
	res := &LoadResult{State: Received, Trace: []State{Received}}
	entry := persistlog.AuditEntry{Op: "load", CallerID: callerID}

	doc, err := shipdoc.Decode(text)
	if err != nil {
		return s.reject(res, entry, &ParseError{Err: err})
	}
	entry.ShipName = doc.Metadata.ShipName
	entry.OriginGridID = doc.Metadata.OriginGridID
	entry.Checksum = doc.Metadata.Checksum
	res.advance(Parsed)

	if s.Validator == nil {
		return s.reject(res, entry, errors.New("ship: no validator"))
	}
	stored := doc.Metadata.Checksum
	v, err := s.Validator.Verify(doc, callerID)
	if err != nil {
		return s.reject(res, entry, err)
	}
	res.Format = v.Format
	res.Warnings = append(res.Warnings, v.Warnings...)
	entry.Format = string(v.Format)

	if s.Ledger != nil {
		n, err := s.Ledger.PriorLoads(ctx, doc.Metadata.OriginGridID, stored)
		if err != nil {
			s.logger().Printf("load %q: duplicate check: %v", doc.Metadata.ShipName, err)
		} else if n > 0 {
			res.Duplicate = true
			entry.Duplicate = true
			if s.RejectDuplicateLoads {
				return s.reject(res, entry, &AuthorizationError{
					Reason:   fmt.Sprintf("ship was already loaded %d time(s)", n),
					Checksum: stored,
				})
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("ship already loaded %d time(s)", n))
			s.logger().Printf("duplicate load: origin=%s caller=%s prior=%d", doc.Metadata.OriginGridID, callerID, n)
		}
	}
	res.advance(Validated)
	if v.Migrated {
		res.Migrated = true
		entry.Migrated = true
		res.advance(Migrated)
	}

	if s.Engine == nil {
		return s.reject(res, entry, errors.New("ship: no reconstruction engine"))
	}
	res.advance(Reconstructing)
	rep, err := s.Engine.Rebuild(doc)
	if err != nil {
		return s.reject(res, entry, err)
	}
	res.Report = rep
	res.Grid = rep.Grid
	res.Grids = rep.Grids
	res.advance(Complete)

	if s.Ledger != nil {
		rec := ledger.LoadRecord{
			Checksum: stored, OriginGridID: doc.Metadata.OriginGridID, CallerID: callerID,
			ShipName: doc.Metadata.ShipName, Format: string(v.Format), Migrated: v.Migrated,
			GridID: string(rep.Grid), At: s.now(),
		}
		if err := s.Ledger.RecordLoad(ctx, rec); err != nil {
			s.logger().Printf("load %q: %v", doc.Metadata.ShipName, err)
		}
	}
	entry.Outcome = "accepted"
	entry.Spawned = rep.Spawned
	entry.Dropped = rep.Dropped
	entry.ComponentFailures = rep.ComponentFailures
	s.audit(entry)
	s.logger().Printf("ship loaded: caller=%s name=%q grid=%s format=%s migrated=%v spawned=%d dropped=%d",
		callerID, doc.Metadata.ShipName, rep.Grid, v.Format, v.Migrated, rep.Spawned, rep.Dropped)
	return res, nil
}

func (s *Service) reject(res *LoadResult, entry persistlog.AuditEntry, err error) (*LoadResult, error) {
	res.advance(Rejected)
	res.Reason = err.Error()
	entry.Outcome = "rejected"
	entry.Code = Code(err)
	entry.Reason = res.Reason
	s.audit(entry)
	s.logger().Printf("ship load rejected: caller=%s code=%s reason=%s", entry.CallerID, entry.Code, res.Reason)
	return res, err
}

func (s *Service) audit(e persistlog.AuditEntry) {
	if s.Audit == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}
	if err := s.Audit.WriteAudit(e); err != nil {
		s.logger().Printf("audit: %v", err)
	}
}
