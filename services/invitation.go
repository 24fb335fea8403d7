package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"progression-gate/models"
	"progression-gate/storage"

	"golang.org/x/text/width"
)

const (
	MaxBatchSize   = 100
	MaxCodeLength  = 64
	generatedLen   = 10
	maxExpiresDays = 3650
	// no 0/O or 1/I/L
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateInput describes one admin generate call.
type GenerateInput struct {
	MaxUses       int
	ExpiresInDays int
	Notes         string
	Code          string // optional fixed code; only with Count <= 1
	Count         int    // 0 or 1 = single code
	CreatedBy     string
}

// InvitationView is a code together with its status at read time.
type InvitationView struct {
	*models.InvitationCode
	Status        models.InvitationStatus `json:"status"`
	RemainingUses int                     `json:"remaining_uses"`
}

type InvitationService struct {
	Store *storage.InvitationStore
	Now   func() time.Time
}

func NewInvitationService(store *storage.InvitationStore) *InvitationService {
	return &InvitationService{Store: store, Now: time.Now}
}

func (s *InvitationService) now() time.Time { return s.Now().UTC() }

// NormalizeCode folds user input into the stored form: trimmed, full-width
// characters narrowed, upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(width.Narrow.String(code)))
}

// Generate creates Count codes (or the single fixed Code) in one batch.
func (s *InvitationService) Generate(ctx context.Context, in GenerateInput) ([]*models.InvitationCode, error) {
	const op = "invitation.generate"
	if in.MaxUses < 1 {
		return nil, fail(op, ReasonInvalidMaxUses, fmt.Sprintf("max_uses must be >= 1, got %d", in.MaxUses))
	}
	if in.ExpiresInDays < 0 || in.ExpiresInDays > maxExpiresDays {
		return nil, fail(op, ReasonInvalidExpiry, fmt.Sprintf("expires_in_days must be within 0..%d, got %d", maxExpiresDays, in.ExpiresInDays))
	}
	count := in.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > MaxBatchSize {
		return nil, fail(op, ReasonInvalidCount, fmt.Sprintf("count must be within 1..%d, got %d", MaxBatchSize, in.Count))
	}

	fixed := NormalizeCode(in.Code)
	if fixed != "" {
		if count != 1 {
			return nil, fail(op, ReasonInvalidCount, "a fixed code cannot be combined with count > 1")
		}
		if len(fixed) > MaxCodeLength || strings.ContainsAny(fixed, " \t\r\n") {
			return nil, fail(op, ReasonInvalidCode, "code must be 1..64 characters without whitespace")
		}
	}

	now := s.now()
	var expiresAt *time.Time
	if in.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, in.ExpiresInDays)
		expiresAt = &t
	}

	codes := make([]*models.InvitationCode, 0, count)
	seen := make(map[string]bool, count)
	for len(codes) < count {
		code := fixed
		if code == "" {
			var err error
			if code, err = randomCode(generatedLen); err != nil {
				return nil, err
			}
			if seen[code] {
				continue
			}
		}
		seen[code] = true
		codes = append(codes, &models.InvitationCode{
			Code:      code,
			MaxUses:   in.MaxUses,
			ExpiresAt: expiresAt,
			Notes:     strings.TrimSpace(in.Notes),
			CreatedBy: in.CreatedBy,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.Store.Create(ctx, codes); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fail(op, ReasonCodeTaken, "code already exists")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Printf("🎟️ [INVITE] Generated %d code(s) max_uses=%d expires_in_days=%d by=%s",
		len(codes), in.MaxUses, in.ExpiresInDays, in.CreatedBy)
	return codes, nil
}

// ValidateAndConsume admits consumer through code or reports why it cannot.
func (s *InvitationService) ValidateAndConsume(ctx context.Context, code, consumer string) (*InvitationView, error) {
	const op = "invitation.consume"
	code = NormalizeCode(code)
	if code == "" {
		return nil, fail(op, ReasonNotFound, "empty code")
	}

	now := s.now()
	inv, consumed, err := s.Store.TryConsume(ctx, code, consumer, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, ReasonNotFound, code)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !consumed {
		switch inv.StatusAt(now) {
		case models.InvitationRevoked:
			return nil, fail(op, ReasonRevoked, code)
		case models.InvitationExpired:
			return nil, fail(op, ReasonExpired, code)
		default:
			// lost the race for the last use, or already at max_uses
			return nil, fail(op, ReasonExhausted, code)
		}
	}

	log.Printf("🎟️ [INVITE] Code %s consumed by %s (%d/%d)", code, consumer, inv.UseCount, inv.MaxUses)
	return s.view(inv, now), nil
}

// Revoke is idempotent.
func (s *InvitationService) Revoke(ctx context.Context, code string) (*InvitationView, error) {
	const op = "invitation.revoke"
	code = NormalizeCode(code)
	now := s.now()
	inv, changed, err := s.Store.SetRevoked(ctx, code, true, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, ReasonNotFound, code)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		log.Printf("🚫 [INVITE] Code %s revoked", code)
	}
	return s.view(inv, now), nil
}

// Reactivate clears the revoked flag only. Counters and expiry are kept, so
// the code may come back as expired or exhausted.
func (s *InvitationService) Reactivate(ctx context.Context, code string) (*InvitationView, error) {
	const op = "invitation.reactivate"
	code = NormalizeCode(code)
	now := s.now()
	inv, changed, err := s.Store.SetRevoked(ctx, code, false, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, ReasonNotFound, code)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return nil, fail(op, ReasonNotRevoked, code)
	}
	v := s.view(inv, now)
	log.Printf("♻️ [INVITE] Code %s reactivated → %s", code, v.Status)
	return v, nil
}

// StatusOf reads the code and evaluates its status now.
func (s *InvitationService) StatusOf(ctx context.Context, code string) (models.InvitationStatus, error) {
	v, err := s.Get(ctx, code, false)
	if err != nil {
		return "", err
	}
	return v.Status, nil
}

// Get returns the code with its derived status; withUses loads used_by.
func (s *InvitationService) Get(ctx context.Context, code string, withUses bool) (*InvitationView, error) {
	const op = "invitation.get"
	code = NormalizeCode(code)
	inv, err := s.Store.Get(ctx, code, withUses)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, ReasonNotFound, code)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.view(inv, s.now()), nil
}

// List pages through codes; an empty status lists all.
func (s *InvitationService) List(ctx context.Context, status models.InvitationStatus, page, size int) ([]InvitationView, int64, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fail("invitation.list", ReasonInvalidStatus, fmt.Sprintf("unknown status %q", status))
	}
	now := s.now()
	codes, total, err := s.Store.List(ctx, storage.InvitationFilter{Status: status, Page: page, Size: size}, now)
	if err != nil {
		return nil, 0, err
	}
	out := make([]InvitationView, len(codes))
	for i := range codes {
		out[i] = *s.view(&codes[i], now)
	}
	return out, total, nil
}

// Stats returns per-status totals.
func (s *InvitationService) Stats(ctx context.Context) (map[models.InvitationStatus]int64, error) {
	return s.Store.CountByStatus(ctx, s.now())
}

// Views wraps codes with their status as of now.
func (s *InvitationService) Views(codes []*models.InvitationCode) []InvitationView {
	now := s.now()
	out := make([]InvitationView, len(codes))
	for i, inv := range codes {
		out[i] = *s.view(inv, now)
	}
	return out
}

func (s *InvitationService) view(inv *models.InvitationCode, now time.Time) *InvitationView {
	return &InvitationView{
		InvitationCode: inv,
		Status:         inv.StatusAt(now),
		RemainingUses:  inv.RemainingUses(),
	}
}

func randomCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
