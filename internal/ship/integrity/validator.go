package integrity

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"shipyard.ai/internal/persistence/blacklist"
	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/ship/identity"
	"shipyard.ai/internal/ship/shiperr"
)

// Blacklist is the read side of the blacklist store.
type Blacklist interface {
	Lookup(checksum string) (blacklist.Entry, bool, error)
}

type Validator struct {
	Identity  identity.Source
	Blacklist Blacklist
	Logger    *log.Logger
}

// Verified is a document that passed validation.
type Verified struct {
	Doc      *shipdoc.ShipDocument
	Format   Format
	Migrated bool
	Warnings []string
}

func (v *Validator) logger() *log.Logger {
	if v.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return v.Logger
}

// Seal computes the base checksum, binds it to this server and stores it in the
// document metadata. Nothing else in doc may change afterwards.
func (v *Validator) Seal(doc *shipdoc.ShipDocument) (string, error) {
	if v.Identity == nil {
		return "", errors.New("integrity: no server identity")
	}
	fp, err := v.Identity.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("integrity: server identity: %w", err)
	}
	sum := Bind(fp, Base(doc))
	doc.Metadata.Checksum = sum
	return sum, nil
}

// Verify checks a decoded document for callerID. A legacy document that validates is
// resealed in place with the current server binding and reported as migrated.
func (v *Validator) Verify(doc *shipdoc.ShipDocument, callerID string) (*Verified, error) {
	stored := doc.Metadata.Checksum

	if err := v.checkBlacklist(stored); err != nil {
		return nil, err
	}

	out := &Verified{Doc: doc, Format: Detect(stored)}
	switch out.Format {
	case FormatServerBound:
		if err := v.verifyBound(doc, stored); err != nil {
			return nil, err
		}
	case FormatLegacyDigest:
		out.Migrated = true
	case FormatLegacyEnhanced:
		if err := v.compare(out.Format, strings.TrimSuffix(stored, enhancedTag), Base(doc)); err != nil {
			return nil, err
		}
		out.Migrated = true
	case FormatLegacyBasic:
		if err := v.compare(out.Format, stored, Basic(doc)); err != nil {
			return nil, err
		}
		out.Migrated = true
	case FormatFull:
		if err := v.compare(out.Format, stored, Base(doc)); err != nil {
			return nil, err
		}
		out.Warnings = append(out.Warnings, "checksum is not bound to a server")
	default:
		want := Base(doc)
		if strings.EqualFold(stored, want) {
			out.Warnings = append(out.Warnings, "unrecognized checksum format matched full checksum")
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("unrecognized checksum format %q not verified", stored))
		}
		v.logger().Printf("checksum format unknown: stored=%q computed=%q", stored, want)
	}

	if doc.Metadata.OwnerID != callerID {
		return nil, &shiperr.AuthorizationError{
			Reason:   fmt.Sprintf("ship belongs to %q, not %q", doc.Metadata.OwnerID, callerID),
			Checksum: stored,
		}
	}

	if out.Migrated {
		sum, err := v.Seal(doc)
		if err != nil {
			return nil, err
		}
		v.logger().Printf("checksum migrated: format=%s ship=%q new=%s", out.Format, doc.Metadata.ShipName, sum)
	}
	return out, nil
}

func (v *Validator) checkBlacklist(stored string) error {
	if v.Blacklist == nil {
		return nil
	}
	keys := []string{stored}
	if _, base, ok := SplitBound(stored); ok {
		keys = append(keys, base)
	}
	for _, k := range keys {
		e, hit, err := v.Blacklist.Lookup(k)
		if err != nil {
			return fmt.Errorf("integrity: blacklist: %w", err)
		}
		if hit {
			reason := e.Reason
			if reason == "" {
				reason = "no reason recorded"
			}
			v.logger().Printf("blacklisted ship rejected: checksum=%s reason=%q", k, reason)
			return &shiperr.AuthorizationError{Reason: "checksum is blacklisted: " + reason, Checksum: stored}
		}
	}
	return nil
}

func (v *Validator) verifyBound(doc *shipdoc.ShipDocument, stored string) error {
	binding, base, _ := SplitBound(stored)
	if err := v.compare(FormatServerBound, base, Base(doc)); err != nil {
		return err
	}
	if v.Identity == nil {
		return errors.New("integrity: no server identity")
	}
	fp, err := v.Identity.Fingerprint()
	if err != nil {
		return fmt.Errorf("integrity: server identity: %w", err)
	}
	if !strings.HasPrefix(bindingHash(fp, base), strings.ToLower(binding)) {
		v.logger().Printf("server binding mismatch: ship=%q binding=%s", doc.Metadata.ShipName, binding)
		return &shiperr.AuthorizationError{Reason: "ship was saved on a different server", Checksum: stored}
	}
	return nil
}

func (v *Validator) compare(f Format, stored, computed string) error {
	if strings.EqualFold(stored, computed) {
		return nil
	}
	v.logger().Printf("INTEGRITY FAILURE: format=%s expected=%q actual=%q", f, stored, computed)
	return &shiperr.IntegrityError{Format: string(f), Expected: stored, Actual: computed}
}
