// Package auth is the client's authentication service: it drives the
// identity provider, keeps the single in-memory session, persists it locally
// and exposes the reconciled entitlement view to the rest of the app.
package auth

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/apperrors"
	"github.com/FloraLens-io/floralens/internal/entitlement"
	"github.com/FloraLens-io/floralens/internal/identity"
	"github.com/FloraLens-io/floralens/internal/models"
	"github.com/FloraLens-io/floralens/internal/session"
	"github.com/FloraLens-io/floralens/internal/store"
)

// Provider is a federated sign-in capability (Google, Apple). The service is
// provider-agnostic: anything that can produce an AuthResponse works.
type Provider interface {
	Name() string
	SignIn(ctx context.Context) (*identity.AuthResponse, error)
}

// AvatarStore uploads an avatar image and returns its public URL.
type AvatarStore interface {
	Upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error)
}

// Service owns session state. All mutation goes through its methods; callers
// receive values, never shared pointers into its internals (except the
// session snapshot, which they must treat as read-only).
type Service struct {
	identity   *identity.Client
	store      *store.Client
	sessions   *session.Store
	reconciler *entitlement.Reconciler
	avatars    AvatarStore

	mu        sync.Mutex
	state     session.State
	current   *session.Session
	ent       *entitlement.Entitlements
	listeners []func(*session.Session)
}

func NewService(id *identity.Client, st *store.Client, sessions *session.Store, rec *entitlement.Reconciler) *Service {
	return &Service{
		identity:   id,
		store:      st,
		sessions:   sessions,
		reconciler: rec,
		state:      session.Unauthenticated,
	}
}

// SetAvatarStore wires the optional avatar uploader.
func (s *Service) SetAvatarStore(a AvatarStore) {
	s.avatars = a
}

// OnAuthStateChange registers a callback fired with the new session (or nil)
// on every auth transition. Callbacks run synchronously on the transition.
func (s *Service) OnAuthStateChange(fn func(*session.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current lifecycle state.
func (s *Service) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the current session, or nil when signed out.
func (s *Service) Current() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Entitlements returns the last reconciled entitlement view, or nil.
func (s *Service) Entitlements() *entitlement.Entitlements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ent
}

// SignUp registers a new account and creates its profile row. A provider
// error returns before any store write. A profile-row failure after a
// successful provider sign-up is logged and tolerated: the account exists,
// the row is repaired lazily on the next profile read.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (*session.Session, error) {
	if !ValidateEmail(email) {
		return nil, apperrors.Validation("invalid email address")
	}
	if !ValidatePassword(password) {
		return nil, apperrors.Validation("password does not meet requirements")
	}

	s.setState(session.Authenticating)

	metadata := map[string]any{}
	if name != "" {
		metadata["full_name"] = name
	}
	resp, err := s.identity.SignUp(ctx, email, password, metadata)
	if err != nil {
		s.setState(session.Unauthenticated)
		return nil, err
	}

	sess := s.sessionFromResponse(resp)

	profile := &models.Profile{ID: resp.User.ID, Email: resp.User.Email, Provider: "email"}
	if name != "" {
		profile.FullName = &name
	}
	if _, err := s.store.CreateUser(ctx, profile); err != nil {
		log.Warnf("auth: profile create failed after sign-up (user=%s): %v", resp.User.ID, err)
	}

	s.finishSignIn(ctx, sess)
	return sess, nil
}

// SignIn exchanges email/password credentials for a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	if !ValidateEmail(email) {
		return nil, apperrors.Validation("invalid email address")
	}
	if password == "" {
		return nil, apperrors.Validation("password is required")
	}

	s.setState(session.Authenticating)

	resp, err := s.identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.setState(session.Unauthenticated)
		return nil, err
	}

	sess := s.sessionFromResponse(resp)
	s.finishSignIn(ctx, sess)
	return sess, nil
}

// SignInWithProvider runs a federated sign-in flow. On the user's first
// federated sign-in the profile row is created with the provider tag.
func (s *Service) SignInWithProvider(ctx context.Context, p Provider) (*session.Session, error) {
	s.setState(session.Authenticating)

	resp, err := p.SignIn(ctx)
	if err != nil {
		s.setState(session.Unauthenticated)
		return nil, err
	}

	sess := s.sessionFromResponse(resp)

	if _, err := s.store.GetUser(ctx, resp.User.ID); errors.Is(err, store.ErrNotFound) {
		profile := &models.Profile{ID: resp.User.ID, Email: resp.User.Email, Provider: p.Name()}
		if name, ok := resp.User.UserMetadata["full_name"].(string); ok && name != "" {
			profile.FullName = &name
		}
		if _, err := s.store.CreateUser(ctx, profile); err != nil {
			log.Warnf("auth: profile upsert failed after %s sign-in (user=%s): %v", p.Name(), resp.User.ID, err)
		}
	} else if err != nil {
		log.Warnf("auth: profile lookup failed after %s sign-in (user=%s): %v", p.Name(), resp.User.ID, err)
	}

	s.finishSignIn(ctx, sess)
	return sess, nil
}

// SignOut revokes the session with the provider (best effort), clears local
// persistence and transitions to Unauthenticated.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current != nil {
		if err := s.identity.SignOut(ctx, current.AccessToken); err != nil {
			log.Warnf("auth: provider sign-out failed (user=%s): %v", current.UserID, err)
		}
	}
	if err := s.sessions.Clear(); err != nil {
		log.Warnf("auth: failed to clear local session store: %v", err)
	}

	s.mu.Lock()
	s.current = nil
	s.ent = nil
	s.state = session.Unauthenticated
	listeners := append([]func(*session.Session){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

// Restore loads a persisted session at process start. An expired or missing
// session leaves the service Unauthenticated and clears local storage.
// (nil, nil) means there was nothing to restore.
func (s *Service) Restore(ctx context.Context) (*session.Session, error) {
	token, expiresAt, err := s.sessions.LoadSession()
	if errors.Is(err, session.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to read local session")
	}

	userID, email, err := s.sessions.LoadIdentity()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to read local identity")
	}

	sess := &session.Session{UserID: userID, Email: email, AccessToken: token, ExpiresAt: expiresAt}
	if sess.Expired(time.Now()) {
		log.Infof("auth: stored session expired (user=%s), clearing", userID)
		if err := s.sessions.Clear(); err != nil {
			log.Warnf("auth: failed to clear expired session: %v", err)
		}
		s.setState(session.Unauthenticated)
		return nil, nil
	}

	s.finishSignIn(ctx, sess)
	return sess, nil
}

// UpdateProfile applies a partial profile update for the signed-in user.
// Without a session it fails before any network call.
func (s *Service) UpdateProfile(ctx context.Context, patch map[string]any) (*models.Profile, error) {
	current := s.Current()
	if current == nil {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "No user logged in")
	}
	if raw, ok := patch["avatar_url"].(string); ok && !ValidateURI(raw) {
		return nil, apperrors.Validation("invalid avatar URL")
	}
	return s.store.UpdateUser(ctx, current.UserID, patch)
}

// SetAvatar uploads the image to object storage and stores its URL on the
// profile.
func (s *Service) SetAvatar(ctx context.Context, r io.Reader, contentType string) (*models.Profile, error) {
	current := s.Current()
	if current == nil {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "No user logged in")
	}
	if s.avatars == nil {
		return nil, apperrors.Config("avatar storage is not configured")
	}
	url, err := s.avatars.Upload(ctx, current.UserID, r, contentType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "avatar upload failed")
	}
	return s.store.UpdateUser(ctx, current.UserID, map[string]any{"avatar_url": url})
}

// ResetPassword asks the provider to send a reset email.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if !ValidateEmail(email) {
		return apperrors.Validation("invalid email address")
	}
	return s.identity.RecoverPassword(ctx, email)
}

// CanScan reports whether the signed-in user may run a scan right now.
// Without a session the answer is always false.
func (s *Service) CanScan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	return s.ent.CanScan(time.Now())
}

// DailyScansRemaining returns today's free quota remainder for display.
func (s *Service) DailyScansRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.ent.DailyScansRemaining()
}

// RecordScan bumps today's counter and refreshes the in-memory view.
func (s *Service) RecordScan(ctx context.Context) (int, error) {
	current := s.Current()
	if current == nil {
		return 0, apperrors.New(apperrors.CodeUnauthorized, "No user logged in")
	}
	count, err := s.reconciler.RecordScan(ctx, current.UserID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.ent != nil {
		s.ent.ScanCount = count
	}
	s.mu.Unlock()
	return count, nil
}

// RefreshEntitlements re-runs the reconciler for the current user.
func (s *Service) RefreshEntitlements(ctx context.Context) *entitlement.Entitlements {
	current := s.Current()
	if current == nil {
		return nil
	}
	ent := s.reconciler.Load(ctx, current.UserID)
	s.mu.Lock()
	s.ent = ent
	s.mu.Unlock()
	return ent
}

func (s *Service) sessionFromResponse(resp *identity.AuthResponse) *session.Session {
	expiresAt, err := identity.TokenExpiry(resp.AccessToken)
	if err != nil {
		// Fall back to the advertised lifetime when the token is opaque.
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &session.Session{
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		AccessToken: resp.AccessToken,
		ExpiresAt:   expiresAt,
	}
}

// finishSignIn persists the session, loads entitlements and notifies
// listeners. It is the single writer of Authenticated state.
func (s *Service) finishSignIn(ctx context.Context, sess *session.Session) {
	if err := s.sessions.SaveSession(sess.AccessToken, sess.ExpiresAt); err != nil {
		log.Warnf("auth: failed to persist session (user=%s): %v", sess.UserID, err)
	}
	if err := s.sessions.SaveIdentity(sess.UserID, sess.Email); err != nil {
		log.Warnf("auth: failed to persist identity (user=%s): %v", sess.UserID, err)
	}

	ent := s.reconciler.Load(ctx, sess.UserID)

	s.mu.Lock()
	s.current = sess
	s.ent = ent
	s.state = session.Authenticated
	listeners := append([]func(*session.Session){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(sess)
	}
}

func (s *Service) setState(state session.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
