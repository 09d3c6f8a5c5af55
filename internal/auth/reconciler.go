package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cpp-cyber/ldapauth/internal/ldap"
	"github.com/cpp-cyber/ldapauth/internal/models"
	"github.com/cpp-cyber/ldapauth/internal/store"

	"golang.org/x/sync/singleflight"
)

// Reconciler matches a directory identity to a local account, provisioning
// one on first login, and completes the login on the session.
type Reconciler struct {
	accounts AccountStore
	history  LoginRecorder
	lock     ProvisionLock

	provisioning singleflight.Group
}

// ProvisionLock serializes provisioning of one username across processes
type ProvisionLock interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// ProvisionTimeout bounds a shared account creation
const ProvisionTimeout = 10 * time.Second

type ReconcilerOption func(*Reconciler)

// WithProvisionLock guards account creation with lock
func WithProvisionLock(lock ProvisionLock) ReconcilerOption {
	return func(r *Reconciler) {
		r.lock = lock
	}
}

func NewReconciler(accounts AccountStore, history LoginRecorder, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		accounts: accounts,
		history:  history,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile returns the local account for identity after updating session
// and recording the login. Local accounts that were not provisioned from
// the directory are never logged in here and yield ErrConflict.
func (r *Reconciler) Reconcile(ctx context.Context, identity *ldap.Identity, session Session) (*models.Account, error) {
	if identity == nil || identity.Username == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrProvisioning)
	}

	account, err := r.accounts.GetAccountByUsername(ctx, identity.Username)
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		account, err = r.provision(ctx, identity)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	if !account.IsDirectoryManaged() {
		return nil, ErrConflict
	}

	if err := session.UpdateSession(account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}

	if err := r.history.CreateLoginHistory(ctx, BackendName, account.ID, session.IPAddress(), session.UserAgent()); err != nil {
		log.Printf("[ERROR] Reconciler: Failed to record login for %s: %v", account.Username, err)
	}

	return account, nil
}

// provision creates the directory account and reads it back. Concurrent
// first logins for one username share a single create, which runs detached
// from any one caller's cancellation and is bounded by ProvisionTimeout.
func (r *Reconciler) provision(ctx context.Context, identity *ldap.Identity) (*models.Account, error) {
	ch := r.provisioning.DoChan(identity.Username, func() (any, error) {
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ProvisionTimeout)
		defer cancel()

		if r.lock == nil {
			return r.createAccount(createCtx, identity)
		}

		var account *models.Account
		err := r.lock.WithLock(createCtx, "provision:"+identity.Username, func() error {
			var err error
			account, err = r.createAccount(createCtx, identity)
			return err
		})
		if err != nil && !errors.Is(err, ErrProvisioning) {
			return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
		}
		return account, err
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	account := res.Val.(*models.Account)
	if res.Shared {
		copied := *account
		account = &copied
	}
	return account, nil
}

func (r *Reconciler) createAccount(ctx context.Context, identity *ldap.Identity) (*models.Account, error) {
	existing, err := r.accounts.GetAccountByUsername(ctx, identity.Username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	account := &models.Account{
		Username:   identity.Username,
		Name:       identity.Name,
		Email:      identity.Email,
		IsAdmin:    false,
		IsLDAPUser: true,
	}

	if err := r.accounts.CreateAccount(ctx, account); err != nil {
		// Includes store.ErrUsernameConflict when another process won the race.
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	log.Printf("[INFO] Reconciler: Provisioned account %s from directory", identity.Username)

	created, err := r.accounts.GetAccountByUsername(ctx, identity.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	return created, nil
}
