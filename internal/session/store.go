package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/cache"
)

const (
	loginStatePrefix           = "loginState."
	oidcTokenSetPrefix         = "oidcTokenSet."
	oboTokenPrefix             = "oboToken."
	refreshAllowedWithinPrefix = "refreshAllowedWithinEpoch."
	providerSIDPrefix          = "authProviderSid."
)

// Store persists every per-session and per-flow record. TTLs are always
// computed by the caller, in whole seconds. A get on an absent or expired key
// returns a zero value and a nil error; backend failures are wrapped in
// auth.ErrStore.
type Store struct {
	cache cache.Cache
}

func NewStore(c cache.Cache) *Store {
	return &Store{cache: c}
}

func (s *Store) GetLoginState(ctx context.Context, state string) (*auth.LoginState, error) {
	var ls auth.LoginState
	found, err := s.getJSON(ctx, loginStatePrefix+state, &ls)
	if err != nil || !found {
		return nil, err
	}
	return &ls, nil
}

func (s *Store) SetLoginState(ctx context.Context, state string, ttlSeconds int64, ls *auth.LoginState) error {
	return s.setJSON(ctx, loginStatePrefix+state, ttlSeconds, ls)
}

func (s *Store) DestroyLoginState(ctx context.Context, state string) error {
	return s.delete(ctx, loginStatePrefix+state)
}

// GetRefreshAllowedWithin returns the instant after which the session may no
// longer be refreshed, or the zero time when none is recorded.
func (s *Store) GetRefreshAllowedWithin(ctx context.Context, sessionID string) (time.Time, error) {
	raw, err := s.get(ctx, refreshAllowedWithinPrefix+sessionID)
	if err != nil || raw == nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: corrupt refresh window for session %s: %v", auth.ErrStore, sessionID, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *Store) SetRefreshAllowedWithin(ctx context.Context, sessionID string, ttlSeconds int64, until time.Time) error {
	return s.set(ctx, refreshAllowedWithinPrefix+sessionID, ttlSeconds, []byte(strconv.FormatInt(until.UnixMilli(), 10)))
}

func (s *Store) DestroyRefreshAllowedWithin(ctx context.Context, sessionID string) error {
	return s.delete(ctx, refreshAllowedWithinPrefix+sessionID)
}

// GetLogoutSessionID maps an identity provider sid to the internal session id.
func (s *Store) GetLogoutSessionID(ctx context.Context, providerSID string) (string, error) {
	raw, err := s.get(ctx, providerSIDPrefix+providerSID)
	if err != nil || raw == nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) SetLogoutSessionID(ctx context.Context, providerSID string, ttlSeconds int64, sessionID string) error {
	return s.set(ctx, providerSIDPrefix+providerSID, ttlSeconds, []byte(sessionID))
}

func (s *Store) DestroyLogoutSessionID(ctx context.Context, providerSID string) error {
	return s.delete(ctx, providerSIDPrefix+providerSID)
}

func (s *Store) GetOidcTokenSet(ctx context.Context, sessionID string) (*auth.OidcTokenSet, error) {
	var ts auth.OidcTokenSet
	found, err := s.getJSON(ctx, oidcTokenSetPrefix+sessionID, &ts)
	if err != nil || !found {
		return nil, err
	}
	return &ts, nil
}

func (s *Store) SetOidcTokenSet(ctx context.Context, sessionID string, ttlSeconds int64, ts *auth.OidcTokenSet) error {
	return s.setJSON(ctx, oidcTokenSetPrefix+sessionID, ttlSeconds, ts)
}

func (s *Store) DestroyOidcTokenSet(ctx context.Context, sessionID string) error {
	return s.delete(ctx, oidcTokenSetPrefix+sessionID)
}

func (s *Store) GetUserOboToken(ctx context.Context, sessionID, appID string) (*auth.OboToken, error) {
	var tok auth.OboToken
	found, err := s.getJSON(ctx, oboKey(sessionID, appID), &tok)
	if err != nil || !found {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) SetUserOboToken(ctx context.Context, sessionID, appID string, ttlSeconds int64, tok *auth.OboToken) error {
	return s.setJSON(ctx, oboKey(sessionID, appID), ttlSeconds, tok)
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrStore, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.cache.Close()
}

func oboKey(sessionID, appID string) string {
	return oboTokenPrefix + sessionID + "." + appID
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get %s: %v", auth.ErrStore, key, err)
	}
	return raw, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.get(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: corrupt record %s: %v", auth.ErrStore, key, err)
	}
	return true, nil
}

func (s *Store) set(ctx context.Context, key string, ttlSeconds int64, value []byte) error {
	if err := s.cache.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second); err != nil {
		if errors.Is(err, cache.ErrInvalidTTL) {
			return fmt.Errorf("set %s with ttl %ds: %w", key, ttlSeconds, err)
		}
		return fmt.Errorf("%w: set %s: %v", auth.ErrStore, key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, ttlSeconds int64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.set(ctx, key, ttlSeconds, raw)
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", auth.ErrStore, key, err)
	}
	return nil
}
