package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cpp-cyber/ldapauth/internal/ldap"
	"github.com/cpp-cyber/ldapauth/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/cpp-cyber/ldapauth/internal/auth")

// AuthService authenticates users against the directory and reconciles
// them with the local account store
type AuthService struct {
	directory  Directory
	reconciler *Reconciler
	metrics    metrics.Recorder
}

var _ Service = (*AuthService)(nil)

// NewAuthService creates a new authentication service. A nil recorder disables metrics.
func NewAuthService(directory Directory, reconciler *Reconciler, recorder metrics.Recorder) *AuthService {
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}
	return &AuthService{
		directory:  directory,
		reconciler: reconciler,
		metrics:    recorder,
	}
}

// Authenticate reports whether username and password are valid directory
// credentials and, if so, binds the matching local account to session.
// Every failure returns false; the cause is only logged and counted.
func (s *AuthService) Authenticate(ctx context.Context, session Session, username, password string) bool {
	ctx, span := tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	start := time.Now()
	outcome := s.authenticate(ctx, session, username, password)
	s.metrics.RecordLogin(outcome, time.Since(start))

	span.SetAttributes(attribute.String("ldapauth.outcome", outcome))
	if outcome == metrics.OutcomeConnectionError || outcome == metrics.OutcomeSearchError {
		span.SetStatus(codes.Error, outcome)
	}
	return outcome == metrics.OutcomeSuccess
}

func (s *AuthService) authenticate(ctx context.Context, session Session, username, password string) string {
	findCtx, span := tracer.Start(ctx, "ldap.FindUser")
	identity, err := s.directory.FindUser(findCtx, username, password)
	span.End()
	if err != nil {
		return classify(username, err)
	}

	reconcileCtx, span := tracer.Start(ctx, "auth.Reconcile")
	account, err := s.reconciler.Reconcile(reconcileCtx, identity, session)
	span.End()
	if err != nil {
		return classify(username, err)
	}

	log.Printf("[INFO] Auth: User %s authenticated (account %s)", account.Username, account.ID)
	return metrics.OutcomeSuccess
}

// classify logs err at the level its class deserves and returns the metrics outcome
func classify(username string, err error) string {
	var connErr *ldap.ConnectionError
	var searchErr *ldap.SearchError

	switch {
	case errors.As(err, &connErr):
		log.Printf("[ERROR] Auth: Directory unavailable while authenticating %s: %v", username, err)
		return metrics.OutcomeConnectionError
	case errors.As(err, &searchErr):
		log.Printf("[ERROR] Auth: Directory search failed for %s: %v", username, err)
		return metrics.OutcomeSearchError
	case errors.Is(err, ldap.ErrNotFound):
		log.Printf("[INFO] Auth: Invalid credentials for %s", username)
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrConflict):
		log.Printf("[INFO] Auth: Rejected directory login for local account %s", username)
		return metrics.OutcomeConflict
	case errors.Is(err, ErrSession):
		log.Printf("[ERROR] Auth: Session update failed for %s: %v", username, err)
		return metrics.OutcomeSession
	case errors.Is(err, ErrProvisioning):
		log.Printf("[INFO] Auth: Provisioning failed for %s: %v", username, err)
		return metrics.OutcomeProvisioning
	default:
		log.Printf("[ERROR] Auth: Unexpected error authenticating %s: %v", username, err)
		return metrics.OutcomeProvisioning
	}
}

// HealthCheck verifies that the directory is reachable and the service bind works
func (s *AuthService) HealthCheck(ctx context.Context) error {
	return s.directory.Ping(ctx)
}
