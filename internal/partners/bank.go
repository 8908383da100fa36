package partners

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
)

// Bank is the commercial bank holding our account and loans.
type Bank interface {
	GetMyAccount(ctx context.Context) (domain.BankDetails, error)
	CreateAccount(ctx context.Context) (domain.BankDetails, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetOutstandingLoans(ctx context.Context) (decimal.Decimal, error)
	TakeLoan(ctx context.Context, amount decimal.Decimal) error
	MakePayment(ctx context.Context, toAccount string, amount decimal.Decimal, description string) error
}

type BankClient struct {
	httpClient
}

func NewBankClient(baseURL string, retry Retry, logger logrus.FieldLogger) *BankClient {
	return &BankClient{httpClient: newHTTPClient(baseURL, retry, logger)}
}

type accountResponse struct {
	AccountNumber string          `json:"account_number"`
	NetBalance    decimal.Decimal `json:"net_balance"`
}

func (b *BankClient) GetMyAccount(ctx context.Context) (domain.BankDetails, error) {
	var resp accountResponse
	if err := b.call(ctx, http.MethodGet, "/account/me", nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.BankDetails{}, ErrNoAccount
		}
		return domain.BankDetails{}, err
	}
	if resp.AccountNumber == "" {
		return domain.BankDetails{}, ErrNoAccount
	}
	return domain.BankDetails{AccountNumber: resp.AccountNumber, AccountBalance: resp.NetBalance}, nil
}

func (b *BankClient) CreateAccount(ctx context.Context) (domain.BankDetails, error) {
	var resp accountResponse
	if err := b.call(ctx, http.MethodPost, "/account", map[string]string{}, &resp); err != nil {
		return domain.BankDetails{}, err
	}
	if resp.AccountNumber == "" {
		return domain.BankDetails{}, ErrMalformed
	}
	return domain.BankDetails{AccountNumber: resp.AccountNumber, AccountBalance: resp.NetBalance}, nil
}

func (b *BankClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := b.call(ctx, http.MethodGet, "/account/me/balance", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

func (b *BankClient) GetOutstandingLoans(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		TotalOutstanding decimal.Decimal `json:"total_outstanding_amount"`
	}
	if err := b.call(ctx, http.MethodGet, "/loan", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.TotalOutstanding, nil
}

func (b *BankClient) TakeLoan(ctx context.Context, amount decimal.Decimal) error {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := b.call(ctx, http.MethodPost, "/loan", map[string]any{"amount": amount}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("loan declined: " + resp.Message)
	}
	return nil
}

func (b *BankClient) MakePayment(ctx context.Context, toAccount string, amount decimal.Decimal, description string) error {
	return b.call(ctx, http.MethodPost, "/transaction", map[string]any{
		"to_account_number": toAccount,
		"amount":            amount,
		"description":       description,
	}, nil)
}
