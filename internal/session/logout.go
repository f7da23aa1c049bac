package session

import (
	"context"
	"log/slog"
)

// LogoutCoordinator tears down the records belonging to a session, either on
// user request or when the identity provider signals a frontchannel logout.
type LogoutCoordinator struct {
	store  *Store
	logger *slog.Logger
}

func NewLogoutCoordinator(store *Store, logger *slog.Logger) *LogoutCoordinator {
	return &LogoutCoordinator{store: store, logger: logger}
}

// Logout destroys the token set and refresh window of sessionID. Cached OBO
// tokens are left to expire; without a token set they are never served.
func (lc *LogoutCoordinator) Logout(ctx context.Context, sessionID string) error {
	if err := lc.store.DestroyOidcTokenSet(ctx, sessionID); err != nil {
		return err
	}
	if err := lc.store.DestroyRefreshAllowedWithin(ctx, sessionID); err != nil {
		return err
	}

	lc.logger.Info("session logged out", "session_id", sessionID)
	return nil
}

// FrontchannelLogout resolves providerSID to the internal session, logs it
// out and removes the mapping. It reports whether a mapping existed.
func (lc *LogoutCoordinator) FrontchannelLogout(ctx context.Context, providerSID string) (bool, error) {
	sessionID, err := lc.store.GetLogoutSessionID(ctx, providerSID)
	if err != nil {
		return false, err
	}
	if sessionID == "" {
		lc.logger.Debug("no session mapped to provider sid", "sid", providerSID)
		return false, nil
	}

	if err := lc.Logout(ctx, sessionID); err != nil {
		return false, err
	}
	if err := lc.store.DestroyLogoutSessionID(ctx, providerSID); err != nil {
		return false, err
	}

	lc.logger.Info("frontchannel logout completed", "sid", providerSID, "session_id", sessionID)
	return true, nil
}
