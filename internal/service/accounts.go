package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/cache"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/store"
)

// AccountDirectory resolves our own bank account number. Lookup order is the
// cache, then the bank, then the last value stored in bank_details.
type AccountDirectory struct {
	bank     partners.Bank
	cache    cache.AccountCache
	settings store.SettingsStore
	ttl      time.Duration
	logger   logrus.FieldLogger
}

func NewAccountDirectory(bank partners.Bank, accountCache cache.AccountCache, settings store.SettingsStore, ttl time.Duration, logger logrus.FieldLogger) *AccountDirectory {
	if accountCache == nil {
		accountCache = cache.NoopAccountCache{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AccountDirectory{
		bank:     bank,
		cache:    accountCache,
		settings: settings,
		ttl:      ttl,
		logger:   logger.WithField("component", "accounts"),
	}
}

func (d *AccountDirectory) AccountNumber(ctx context.Context) (string, error) {
	if cached, ok, err := d.cache.Get(ctx); err != nil {
		logging.LogError(d.logger, moduleName, "AccountNumber", "account cache read failed", nil, err)
	} else if ok && cached.AccountNumber != "" {
		return cached.AccountNumber, nil
	}

	details, bankErr := d.bank.GetMyAccount(ctx)
	if bankErr == nil {
		d.Remember(ctx, details)
		return details.AccountNumber, nil
	}

	stored, err := d.settings.GetBankDetails(ctx)
	if err == nil && stored.AccountNumber != "" {
		d.logger.WithField("error", bankErr.Error()).Warn("bank unreachable, using stored account number")
		return stored.AccountNumber, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return "", fmt.Errorf("resolve account number: %w", bankErr)
}

// Remember stores the details in bank_details and the cache. Failures are logged.
func (d *AccountDirectory) Remember(ctx context.Context, details domain.BankDetails) {
	if details.AccountNumber == "" {
		return
	}
	if err := d.settings.SaveBankDetails(ctx, details); err != nil {
		logging.LogError(d.logger, moduleName, "Remember", "save bank details failed", details.AccountNumber, err)
	}
	if err := d.cache.Set(ctx, details, d.ttl); err != nil {
		logging.LogError(d.logger, moduleName, "Remember", "account cache write failed", details.AccountNumber, err)
	}
}
