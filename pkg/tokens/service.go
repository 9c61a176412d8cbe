// Package tokens issues and resolves the hashed capability tokens that
// authorize reviewer actions on a draft. Raw tokens leave the process only
// inside notification links; the database ever sees sha256 hashes.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/store"
)

// mintRetries bounds re-mints after a token_hash unique collision. With
// 256-bit randomness a single retry is already unreachable in practice.
const mintRetries = 5

// ErrExhausted is returned when issuance keeps colliding on token_hash.
var ErrExhausted = errors.New("tokens: issuance retries exhausted")

// RawSet maps each action to the raw (un-hashed) token minted for it.
type RawSet map[contracts.TokenAction]string

// Status classifies the outcome of resolving a raw token.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

// Resolution is the result of resolving a raw token. Token is nil for
// not_found; Draft is set only when Status is StatusOK.
type Resolution struct {
	Status Status
	Draft  *contracts.Draft
	Token  *contracts.ActionToken
}

// Service mints, resolves and consumes action tokens against the store.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// NewService returns a token service over st.
func NewService(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Hash returns the hex sha256 of a raw token, the only form persisted.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Opaque returns a random hex identifier, used for the draft token column.
func Opaque() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("tokens: opaque id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// mintRaw draws a 32-byte raw token and encodes it base64url, unpadded.
func mintRaw() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("tokens: mint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// Issue mints a raw token for one action of a draft and persists its hash,
// drawing fresh randomness if the hash collides with an existing row.
func (s *Service) Issue(ctx context.Context, draftID string, action contracts.TokenAction, createdAt, expiresAt time.Time) (string, *contracts.ActionToken, error) {
	for i := 0; i < mintRetries; i++ {
		raw, err := mintRaw()
		if err != nil {
			return "", nil, err
		}
		tok := &contracts.ActionToken{
			DraftID:   draftID,
			Action:    action,
			TokenHash: Hash(raw),
			CreatedAt: createdAt,
			ExpiresAt: expiresAt,
			OneTime:   action.OneTime(),
		}
		err = s.store.InsertActionToken(ctx, tok)
		if err == nil {
			return raw, tok, nil
		}
		if !store.IsDuplicate(err) {
			return "", nil, err
		}
	}
	return "", nil, ErrExhausted
}

// IssueSet mints a fresh token for every action of an existing draft. The
// new set gets a full ttl window from now; older live tokens stay valid
// until their own expiry.
func (s *Service) IssueSet(ctx context.Context, draftID string, ttl time.Duration) (RawSet, error) {
	now := s.now().UTC()
	expires := now.Add(ttl)
	raws := make(RawSet, len(contracts.AllTokenActions))
	for _, action := range contracts.AllTokenActions {
		raw, _, err := s.Issue(ctx, draftID, action, now, expires)
		if err != nil {
			return nil, err
		}
		raws[action] = raw
	}
	return raws, nil
}

// CreateDraft persists d together with a full token set in one transaction.
// Draft ids are deterministic per run, so a retried run lands on an existing
// row: the stored draft is loaded back into d and a fresh token set is
// minted for it instead of failing.
func (s *Service) CreateDraft(ctx context.Context, d *contracts.Draft) (RawSet, error) {
	ttl := d.ExpiresAt.Sub(d.CreatedAt)

	existing, err := s.store.GetDraft(ctx, d.ID)
	switch {
	case err == nil:
		*d = *existing
		return s.IssueSet(ctx, d.ID, ttl)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	for i := 0; i < mintRetries; i++ {
		raws, rows, err := s.mintSet(d)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateDraftWithTokens(ctx, d, rows)
		if err == nil {
			return raws, nil
		}
		if !store.IsDuplicate(err) {
			return nil, err
		}
		// Either a rival run inserted the draft first or a token hash
		// collided. Re-check the draft, then retry with fresh randomness.
		existing, gerr := s.store.GetDraft(ctx, d.ID)
		switch {
		case gerr == nil:
			*d = *existing
			return s.IssueSet(ctx, d.ID, ttl)
		case !errors.Is(gerr, store.ErrNotFound):
			return nil, gerr
		}
	}
	return nil, ErrExhausted
}

func (s *Service) mintSet(d *contracts.Draft) (RawSet, []contracts.ActionToken, error) {
	raws := make(RawSet, len(contracts.AllTokenActions))
	rows := make([]contracts.ActionToken, 0, len(contracts.AllTokenActions))
	for _, action := range contracts.AllTokenActions {
		raw, err := mintRaw()
		if err != nil {
			return nil, nil, err
		}
		raws[action] = raw
		rows = append(rows, contracts.ActionToken{
			DraftID:   d.ID,
			Action:    action,
			TokenHash: Hash(raw),
			CreatedAt: d.CreatedAt,
			ExpiresAt: d.ExpiresAt,
			OneTime:   action.OneTime(),
		})
	}
	return raws, rows, nil
}

// Resolve classifies a raw token. Expiry is checked before consumption, so
// a consumed token that has also expired reports expired.
func (s *Service) Resolve(ctx context.Context, action contracts.TokenAction, raw string) (*Resolution, error) {
	tok, err := s.store.GetActionToken(ctx, action, Hash(raw))
	if errors.Is(err, store.ErrNotFound) {
		return &Resolution{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if now.After(tok.ExpiresAt) {
		return &Resolution{Status: StatusExpired, Token: tok}, nil
	}
	if tok.OneTime && tok.ConsumedAt != nil {
		return &Resolution{Status: StatusConsumed, Token: tok}, nil
	}
	draft, err := s.store.GetDraft(ctx, tok.DraftID)
	if errors.Is(err, store.ErrNotFound) {
		return &Resolution{Status: StatusNotFound, Token: tok}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Resolution{Status: StatusOK, Draft: draft, Token: tok}, nil
}

// Consume stamps a one-time token. Multi-use tokens pass through untouched,
// as does a one-time token that is already consumed.
func (s *Service) Consume(ctx context.Context, tok *contracts.ActionToken) error {
	if tok == nil || !tok.OneTime || tok.ConsumedAt != nil {
		return nil
	}
	now := s.now().UTC()
	if err := s.store.ConsumeActionToken(ctx, tok.ID, now); err != nil {
		return err
	}
	tok.ConsumedAt = &now
	return nil
}
