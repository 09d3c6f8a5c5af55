package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cpp-cyber/ldapauth/internal/ldap"
	"github.com/cpp-cyber/ldapauth/internal/metrics"
	"github.com/cpp-cyber/ldapauth/internal/models"
	"github.com/cpp-cyber/ldapauth/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// =================================================
// Fakes
// =================================================

type directoryUser struct {
	password string
	identity ldap.Identity
}

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]directoryUser
	err     error
	pingErr error
	calls   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]directoryUser{}}
}

func (d *fakeDirectory) add(username, password, name, email string) {
	d.users[username] = directoryUser{
		password: password,
		identity: ldap.Identity{Username: username, Name: name, Email: email},
	}
}

func (d *fakeDirectory) FindUser(ctx context.Context, username, password string) (*ldap.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[username]
	if !ok || password == "" || user.password != password {
		return nil, ldap.ErrNotFound
	}
	identity := user.identity
	return &identity, nil
}

func (d *fakeDirectory) Ping(ctx context.Context) error {
	return d.pingErr
}

type fakeSession struct {
	mu        sync.Mutex
	account   *models.Account
	updates   int
	updateErr error
}

func (s *fakeSession) UpdateSession(account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.account = account
	s.updates++
	return nil
}

func (s *fakeSession) IPAddress() string { return "192.0.2.10" }
func (s *fakeSession) UserAgent() string { return "test-agent/1.0" }

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *fakeRecorder) RecordLogin(outcome string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) RecordLogout()                                  {}
func (r *fakeRecorder) RecordHealthCheck(service string, healthy bool) {}

func (r *fakeRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}

type failingHistory struct{}

func (failingHistory) CreateLoginHistory(ctx context.Context, authType, accountID, ipAddress, userAgent string) error {
	return errors.New("disk full")
}

type failingAccounts struct {
	*store.Store
}

func (failingAccounts) CreateAccount(ctx context.Context, account *models.Account) error {
	return errors.New("read-only database")
}

type testEnv struct {
	store     *store.Store
	directory *fakeDirectory
	recorder  *fakeRecorder
	service   *AuthService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.New(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	directory := newFakeDirectory()
	recorder := &fakeRecorder{}

	return &testEnv{
		store:     s,
		directory: directory,
		recorder:  recorder,
		service:   NewAuthService(directory, NewReconciler(s, s), recorder),
	}
}

func (e *testEnv) history(t *testing.T, accountID string) []models.LoginHistory {
	t.Helper()
	history, err := e.store.ListLoginHistory(context.Background(), accountID)
	require.NoError(t, err)
	return history
}

// =================================================
// Authenticate
// =================================================

func TestAuthenticate_ProvisionsDirectoryUser(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
	session := &fakeSession{}

	ok := env.service.Authenticate(context.Background(), session, "jdoe", "correct")
	require.True(t, ok)

	account, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", account.Name)
	assert.Equal(t, "jdoe@example.com", account.Email)
	assert.False(t, account.IsAdmin)
	assert.True(t, account.IsLDAPUser)

	require.NotNil(t, session.account)
	assert.Equal(t, account.ID, session.account.ID)

	history := env.history(t, account.ID)
	require.Len(t, history, 1)
	assert.Equal(t, BackendName, history[0].AuthType)
	assert.Equal(t, "192.0.2.10", history[0].IPAddress)
	assert.Equal(t, "test-agent/1.0", history[0].UserAgent)

	assert.Equal(t, metrics.OutcomeSuccess, env.recorder.last())
}

func TestAuthenticate_UnknownUserCreatesNothing(t *testing.T) {
	env := setupTestEnv(t)
	session := &fakeSession{}

	ok := env.service.Authenticate(context.Background(), session, "ghost", "whatever")
	assert.False(t, ok)

	_, err := env.store.GetAccountByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	assert.Zero(t, session.updates)
	assert.Equal(t, metrics.OutcomeNotFound, env.recorder.last())
}

func TestAuthenticate_WrongPasswordMatchesUnknownUser(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")

	wrong := &fakeSession{}
	unknown := &fakeSession{}

	assert.False(t, env.service.Authenticate(context.Background(), wrong, "jdoe", "wrong"))
	wrongOutcome := env.recorder.last()
	assert.False(t, env.service.Authenticate(context.Background(), unknown, "nobody", "wrong"))
	unknownOutcome := env.recorder.last()

	assert.Equal(t, unknownOutcome, wrongOutcome)
	assert.Zero(t, wrong.updates)
	assert.Zero(t, unknown.updates)

	_, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestAuthenticate_RejectsLocalAccount(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	local := &models.Account{Username: "admin", Name: "Local Admin", IsAdmin: true, IsLDAPUser: false}
	require.NoError(t, env.store.CreateAccount(ctx, local))
	env.directory.add("admin", "directory-password", "Directory Admin", "admin@example.com")
	session := &fakeSession{}

	ok := env.service.Authenticate(ctx, session, "admin", "directory-password")
	assert.False(t, ok)
	assert.Zero(t, session.updates)
	assert.Empty(t, env.history(t, local.ID))
	assert.Equal(t, metrics.OutcomeConflict, env.recorder.last())

	account, err := env.store.GetAccountByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Local Admin", account.Name)
	assert.True(t, account.IsAdmin)
	assert.False(t, account.IsLDAPUser)
}

func TestAuthenticate_RepeatLoginReusesAccount(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
	ctx := context.Background()

	first := &fakeSession{}
	second := &fakeSession{}
	require.True(t, env.service.Authenticate(ctx, first, "jdoe", "correct"))
	require.True(t, env.service.Authenticate(ctx, second, "jdoe", "correct"))

	assert.Equal(t, first.account.ID, second.account.ID)
	assert.Len(t, env.history(t, first.account.ID), 2)
}

func TestAuthenticate_MissingAttributes(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("svc", "secret", "", "")
	session := &fakeSession{}

	require.True(t, env.service.Authenticate(context.Background(), session, "svc", "secret"))

	account, err := env.store.GetAccountByUsername(context.Background(), "svc")
	require.NoError(t, err)
	assert.Empty(t, account.Name)
	assert.Empty(t, account.Email)
	assert.True(t, account.IsLDAPUser)
}

func TestAuthenticate_ConcurrentFirstLogins(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")

	const attempts = 10
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = env.service.Authenticate(context.Background(), &fakeSession{}, "jdoe", "correct")
		}()
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "attempt %d", i)
	}

	account, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.True(t, account.IsLDAPUser)
	assert.Len(t, env.history(t, account.ID), attempts)
}

func TestAuthenticate_DirectoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{
			name:    "connection",
			err:     &ldap.ConnectionError{Operation: "connect", Server: "ldap.example.com:389", Cause: errors.New("connection refused")},
			outcome: metrics.OutcomeConnectionError,
		},
		{
			name:    "search",
			err:     &ldap.SearchError{BaseDN: "ou=people,dc=example,dc=com", Filter: "(uid=jdoe)", Cause: errors.New("no such object")},
			outcome: metrics.OutcomeSearchError,
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			outcome: metrics.OutcomeProvisioning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
			env.directory.err = tt.err
			session := &fakeSession{}

			assert.False(t, env.service.Authenticate(context.Background(), session, "jdoe", "correct"))
			assert.Zero(t, session.updates)
			assert.Equal(t, tt.outcome, env.recorder.last())

			_, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
			assert.ErrorIs(t, err, store.ErrRecordNotFound)
		})
	}
}

func TestAuthenticate_SessionFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
	session := &fakeSession{updateErr: errors.New("cookie too large")}

	assert.False(t, env.service.Authenticate(context.Background(), session, "jdoe", "correct"))
	assert.Equal(t, metrics.OutcomeSession, env.recorder.last())

	account, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Empty(t, env.history(t, account.ID))
}

func TestAuthenticate_HistoryFailureDoesNotBlockLogin(t *testing.T) {
	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
	service := NewAuthService(env.directory, NewReconciler(env.store, failingHistory{}), nil)
	session := &fakeSession{}

	assert.True(t, service.Authenticate(context.Background(), session, "jdoe", "correct"))
	assert.Equal(t, 1, session.updates)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)
	assert.NoError(t, env.service.HealthCheck(context.Background()))

	env.directory.pingErr = &ldap.ConnectionError{Operation: "bind", Server: "ldap.example.com:389", Cause: errors.New("invalid credentials")}
	assert.Error(t, env.service.HealthCheck(context.Background()))
}

// =================================================
// Reconcile
// =================================================

func TestReconcile_EmptyIdentity(t *testing.T) {
	env := setupTestEnv(t)
	reconciler := NewReconciler(env.store, env.store)

	_, err := reconciler.Reconcile(context.Background(), nil, &fakeSession{})
	assert.ErrorIs(t, err, ErrProvisioning)

	_, err = reconciler.Reconcile(context.Background(), &ldap.Identity{}, &fakeSession{})
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestReconcile_CreateFailure(t *testing.T) {
	env := setupTestEnv(t)
	reconciler := NewReconciler(failingAccounts{env.store}, env.store)
	session := &fakeSession{}

	_, err := reconciler.Reconcile(context.Background(), &ldap.Identity{Username: "jdoe"}, session)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.Zero(t, session.updates)
}

func TestReconcile_Conflict(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateAccount(ctx, &models.Account{Username: "admin"}))

	_, err := NewReconciler(env.store, env.store).Reconcile(ctx, &ldap.Identity{Username: "admin"}, &fakeSession{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestReconcile_ExistingAccountKeepsStoredAttributes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	existing := &models.Account{Username: "jdoe", Name: "Stored Name", IsLDAPUser: true}
	require.NoError(t, env.store.CreateAccount(ctx, existing))

	account, err := NewReconciler(env.store, env.store).Reconcile(ctx, &ldap.Identity{Username: "jdoe", Name: "Directory Name"}, &fakeSession{})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, account.ID)
	assert.Equal(t, "Stored Name", account.Name)
}

// staleLookups answers the first misses lookups with not found, like a
// process that read the store before another one inserted the account.
type staleLookups struct {
	*store.Store
	misses int
}

func (s *staleLookups) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	if s.misses > 0 {
		s.misses--
		return nil, store.ErrRecordNotFound
	}
	return s.Store.GetAccountByUsername(ctx, username)
}

func TestReconcile_LosingProvisionerIsRejected(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	identity := &ldap.Identity{Username: "jdoe", Name: "John Doe"}

	// Separate reconcilers share no singleflight group, as on two instances.
	winner := NewReconciler(&staleLookups{Store: env.store, misses: 2}, env.store)
	loser := NewReconciler(&staleLookups{Store: env.store, misses: 2}, env.store)

	account, err := winner.Reconcile(ctx, identity, &fakeSession{})
	require.NoError(t, err)

	session := &fakeSession{}
	_, err = loser.Reconcile(ctx, identity, session)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.Zero(t, session.updates)
	assert.Len(t, env.history(t, account.ID), 1)
}

type slowAccounts struct {
	*store.Store
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (s *slowAccounts) CreateAccount(ctx context.Context, account *models.Account) error {
	s.startOnce.Do(func() { close(s.started) })
	<-s.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CreateAccount(ctx, account)
}

func TestReconcile_SharedCreateOutlivesCanceledCaller(t *testing.T) {
	env := setupTestEnv(t)
	accounts := &slowAccounts{Store: env.store, started: make(chan struct{}), release: make(chan struct{})}
	reconciler := NewReconciler(accounts, env.store)
	identity := &ldap.Identity{Username: "jdoe", Name: "John Doe"}

	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeSession{}
	firstErr := make(chan error, 1)
	go func() {
		_, err := reconciler.Reconcile(ctx, identity, first)
		firstErr <- err
	}()
	<-accounts.started

	second := &fakeSession{}
	secondErr := make(chan error, 1)
	go func() {
		_, err := reconciler.Reconcile(context.Background(), identity, second)
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, ErrProvisioning)
	assert.Zero(t, first.updates)

	close(accounts.release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 1, second.updates)

	account, err := env.store.GetAccountByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.True(t, account.IsLDAPUser)
}

type fakeLock struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *fakeLock) WithLock(ctx context.Context, key string, fn func() error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	return fn()
}

func TestReconcile_ProvisionLock(t *testing.T) {
	env := setupTestEnv(t)
	lock := &fakeLock{}
	reconciler := NewReconciler(env.store, env.store, WithProvisionLock(lock))
	ctx := context.Background()

	account, err := reconciler.Reconcile(ctx, &ldap.Identity{Username: "jdoe", Name: "John Doe"}, &fakeSession{})
	require.NoError(t, err)
	assert.True(t, account.IsLDAPUser)
	assert.Equal(t, []string{"provision:jdoe"}, lock.keys)

	// Existing accounts never take the lock.
	_, err = reconciler.Reconcile(ctx, &ldap.Identity{Username: "jdoe"}, &fakeSession{})
	require.NoError(t, err)
	assert.Len(t, lock.keys, 1)
}

func TestReconcile_ProvisionLockUnavailable(t *testing.T) {
	env := setupTestEnv(t)
	lock := &fakeLock{err: errors.New("lock not obtained")}
	reconciler := NewReconciler(env.store, env.store, WithProvisionLock(lock))
	session := &fakeSession{}

	_, err := reconciler.Reconcile(context.Background(), &ldap.Identity{Username: "jdoe"}, session)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.Zero(t, session.updates)

	_, err = env.store.GetAccountByUsername(context.Background(), "jdoe")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestAuthenticate_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	env := setupTestEnv(t)
	env.directory.add("jdoe", "correct", "John Doe", "jdoe@example.com")
	require.True(t, env.service.Authenticate(context.Background(), &fakeSession{}, "jdoe", "correct"))

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = span
	}
	require.Contains(t, names, "auth.Authenticate")
	assert.Contains(t, names, "ldap.FindUser")
	assert.Contains(t, names, "auth.Reconcile")
	assert.Contains(t, names["auth.Authenticate"].Attributes(), attribute.String("ldapauth.outcome", metrics.OutcomeSuccess))
}
