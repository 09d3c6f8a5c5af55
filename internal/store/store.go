package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
	"unicode/utf8"

	"github.com/cpp-cyber/ldapauth/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LoginHistoryLimit is the number of login history rows kept per account.
const LoginHistoryLimit = 10

type Store struct {
	db *gorm.DB
}

// NewFromConfig opens the store described by config.
func NewFromConfig(config *Config) (*Store, error) {
	dsn, err := config.ConnectionString()
	if err != nil {
		return nil, err
	}
	return New(config.Driver, dsn)
}

func New(driver, dsn string) (*Store, error) {
	return open(driver, dsn, newGormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)))
}

// newGormLogger logs slow queries and errors. Lookups that find nothing are
// an expected outcome here and are not logged.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func open(driver, dsn string, gormLogger logger.Interface) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection also keeps
		// ":memory:" databases visible to every query.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(25)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.LoginHistory{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("[INFO] Store: Connected to %s database", driver)
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =================================================
// Accounts
// =================================================

// GetAccountByUsername returns ErrRecordNotFound when no account has username.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

// CreateAccount inserts account, assigning an ID when empty. The unique
// index on username makes concurrent identical creates safe: all but one
// fail with ErrUsernameConflict.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	err := s.db.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// =================================================
// Login history
// =================================================

// CreateLoginHistory stores a login and prunes the account's history to
// the newest LoginHistoryLimit rows.
func (s *Store) CreateLoginHistory(ctx context.Context, authType, accountID, ipAddress, userAgent string) error {
	userAgent = truncateUTF8(userAgent, models.UserAgentMaxLength)

	entry := &models.LoginHistory{
		AuthType:  authType,
		AccountID: accountID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to create login history: %w", err)
		}

		var ids []uint
		if err := tx.Model(&models.LoginHistory{}).
			Where("account_id = ?", accountID).
			Order("id DESC").
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to list login history: %w", err)
		}
		if len(ids) <= LoginHistoryLimit {
			return nil
		}

		stale := ids[LoginHistoryLimit:]
		if err := tx.Where("id IN ?", stale).Delete(&models.LoginHistory{}).Error; err != nil {
			return fmt.Errorf("failed to prune login history: %w", err)
		}
		return nil
	})
}

// ListLoginHistory returns the account's logins, newest first.
func (s *Store) ListLoginHistory(ctx context.Context, accountID string) ([]models.LoginHistory, error) {
	var history []models.LoginHistory
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(LoginHistoryLimit).
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to list login history: %w", err)
	}
	return history, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
