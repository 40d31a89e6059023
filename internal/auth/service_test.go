package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FloraLens-io/floralens/internal/apperrors"
	"github.com/FloraLens-io/floralens/internal/entitlement"
	"github.com/FloraLens-io/floralens/internal/identity"
	"github.com/FloraLens-io/floralens/internal/models"
	"github.com/FloraLens-io/floralens/internal/session"
	"github.com/FloraLens-io/floralens/internal/store"
)

// fakeBackend records store API requests and serves canned responses.
type fakeBackend struct {
	mu       sync.Mutex
	requests []string

	subscription *models.Subscription
	scanCount    int
	signUpFails  bool
}

func (f *fakeBackend) record(r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) has(req string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == req {
			return true
		}
	}
	return false
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var p models.Profile
		json.NewDecoder(r.Body).Decode(&p)
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("PATCH /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.Profile{ID: r.PathValue("id")})
	})
	mux.HandleFunc("GET /subscriptions/active/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.subscription == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(f.subscription)
	})
	mux.HandleFunc("GET /scans/{id}/{date}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.DailyScanCount{Count: f.scanCount})
	})
	mux.HandleFunc("POST /scans/{id}/{date}/increment", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.scanCount++
		json.NewEncoder(w).Encode(models.DailyScanCount{Count: f.scanCount})
	})
	return mux
}

func (f *fakeBackend) identityHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		if f.signUpFails {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"msg": "Email already exists"})
			return
		}
		json.NewEncoder(w).Encode(identity.AuthResponse{
			AccessToken: "opaque-token",
			ExpiresIn:   3600,
			User:        identity.User{ID: "uid-1", Email: "user@example.com"},
		})
	})
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(identity.AuthResponse{
			AccessToken: "opaque-token",
			ExpiresIn:   3600,
			User:        identity.User{ID: "uid-1", Email: "user@example.com"},
		})
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestService(t *testing.T, backend *fakeBackend) (*Service, *session.Store) {
	t.Helper()

	apiSrv := httptest.NewServer(backend.handler())
	t.Cleanup(apiSrv.Close)
	idSrv := httptest.NewServer(backend.identityHandler())
	t.Cleanup(idSrv.Close)

	sessions, err := session.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	st := store.NewClient(apiSrv.URL, "api-key", 5*time.Second)
	id := identity.NewClient(idSrv.URL, "anon-key")
	return NewService(id, st, sessions, entitlement.New(st)), sessions
}

func TestSignInLoadsEntitlementsAndPersists(t *testing.T) {
	backend := &fakeBackend{scanCount: 2}
	svc, sessions := newTestService(t, backend)

	var notified *session.Session
	svc.OnAuthStateChange(func(s *session.Session) { notified = s })

	sess, err := svc.SignIn(context.Background(), "user@example.com", "Hunter2!x")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", sess.UserID)
	assert.Equal(t, session.Authenticated, svc.State())

	require.NotNil(t, notified)
	assert.Equal(t, "uid-1", notified.UserID)

	assert.Equal(t, 3, svc.DailyScansRemaining())
	assert.True(t, svc.CanScan())

	token, _, err := sessions.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", token)
}

func TestSignUpProviderErrorWritesNothing(t *testing.T) {
	backend := &fakeBackend{signUpFails: true}
	svc, _ := newTestService(t, backend)

	sess, err := svc.SignUp(context.Background(), "user@example.com", "Hunter2!x", "Flo")
	assert.Nil(t, sess)
	require.Error(t, err)
	assert.False(t, backend.has("POST /users"), "no profile write after provider error")
	assert.Equal(t, session.Unauthenticated, svc.State())
}

func TestSignUpCreatesProfile(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	_, err := svc.SignUp(context.Background(), "user@example.com", "Hunter2!x", "Flo")
	require.NoError(t, err)
	assert.True(t, backend.has("POST /users"))
}

func TestSignUpValidation(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	_, err := svc.SignUp(context.Background(), "not-an-email", "Hunter2!x", "")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	_, err = svc.SignUp(context.Background(), "user@example.com", "weak", "")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	assert.Equal(t, 0, backend.requestCount(), "validation failures make no network calls")
}

func TestUpdateProfileWithoutSession(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	_, err := svc.UpdateProfile(context.Background(), map[string]any{"full_name": "Flo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No user logged in")
	assert.Equal(t, 0, backend.requestCount(), "guard fires before any network call")
}

func TestRestoreExpiredSessionClearsStorage(t *testing.T) {
	backend := &fakeBackend{}
	svc, sessions := newTestService(t, backend)

	require.NoError(t, sessions.SaveSession("stale-token", time.Now().Add(-time.Hour)))
	require.NoError(t, sessions.SaveIdentity("uid-1", "user@example.com"))

	sess, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, session.Unauthenticated, svc.State())

	_, _, err = sessions.LoadSession()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRestoreLiveSession(t *testing.T) {
	backend := &fakeBackend{subscription: &models.Subscription{
		ID: "sub-1", UserID: "uid-1", Status: models.SubscriptionActive,
		EndDate: time.Now().Add(30 * 24 * time.Hour),
	}}
	svc, sessions := newTestService(t, backend)

	require.NoError(t, sessions.SaveSession("live-token", time.Now().Add(time.Hour)))
	require.NoError(t, sessions.SaveIdentity("uid-1", "user@example.com"))

	sess, err := svc.Restore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, session.Authenticated, svc.State())
	assert.True(t, svc.CanScan())
}

func TestSignOut(t *testing.T) {
	backend := &fakeBackend{}
	svc, sessions := newTestService(t, backend)

	_, err := svc.SignIn(context.Background(), "user@example.com", "Hunter2!x")
	require.NoError(t, err)

	var lastNotified *session.Session
	fired := false
	svc.OnAuthStateChange(func(s *session.Session) {
		fired = true
		lastNotified = s
	})

	require.NoError(t, svc.SignOut(context.Background()))
	assert.Equal(t, session.Unauthenticated, svc.State())
	assert.Nil(t, svc.Current())
	assert.True(t, fired)
	assert.Nil(t, lastNotified)

	_, _, err = sessions.LoadSession()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

type fakeProvider struct {
	resp *identity.AuthResponse
}

func (p *fakeProvider) Name() string { return "google" }
func (p *fakeProvider) SignIn(ctx context.Context) (*identity.AuthResponse, error) {
	return p.resp, nil
}

func TestSignInWithProviderUpsertsProfile(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	p := &fakeProvider{resp: &identity.AuthResponse{
		AccessToken: "opaque-token",
		ExpiresIn:   3600,
		User: identity.User{
			ID:           "uid-9",
			Email:        "fed@example.com",
			UserMetadata: map[string]any{"full_name": "Fed User"},
		},
	}}

	sess, err := svc.SignInWithProvider(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "uid-9", sess.UserID)
	assert.True(t, backend.has("GET /users/uid-9"))
	assert.True(t, backend.has("POST /users"), "first federated sign-in creates the profile row")
}

func TestRecordScan(t *testing.T) {
	backend := &fakeBackend{scanCount: 4}
	svc, _ := newTestService(t, backend)

	_, err := svc.RecordScan(context.Background())
	require.Error(t, err, "no session yet")

	_, err = svc.SignIn(context.Background(), "user@example.com", "Hunter2!x")
	require.NoError(t, err)
	assert.True(t, svc.CanScan())

	count, err := svc.RecordScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 0, svc.DailyScansRemaining())
	assert.False(t, svc.CanScan(), "quota exhausted and no subscription")
}
