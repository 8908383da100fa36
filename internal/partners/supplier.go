package partners

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
)

// Quote is one supplier's offer for a material.
type Quote struct {
	Supplier   string
	Material   domain.StockType
	PricePerKg decimal.Decimal
	Available  int
}

// PurchaseOrder is what a supplier returns after accepting an order. We owe
// TotalPrice to AccountNumber and collect the goods from PickupFrom.
type PurchaseOrder struct {
	OrderReference string
	Supplier       string
	AccountNumber  string
	TotalPrice     decimal.Decimal
	PickupFrom     string
}

type Supplier interface {
	Name() string
	Quote(ctx context.Context, material domain.StockType) (Quote, error)
	Order(ctx context.Context, material domain.StockType, quantity int) (PurchaseOrder, error)
}

type SupplierClient struct {
	httpClient
	name string
}

func NewSupplierClient(name string, baseURL string, retry Retry, logger logrus.FieldLogger) *SupplierClient {
	return &SupplierClient{httpClient: newHTTPClient(baseURL, retry, logger), name: name}
}

func (s *SupplierClient) Name() string {
	return s.name
}

type materialListing struct {
	MaterialName string          `json:"materialName"`
	Available    int             `json:"availableQuantityInKg"`
	PricePerKg   decimal.Decimal `json:"pricePerKg"`
}

func (s *SupplierClient) Quote(ctx context.Context, material domain.StockType) (Quote, error) {
	var listings []materialListing
	if err := s.call(ctx, http.MethodGet, "/raw-materials", nil, &listings); err != nil {
		return Quote{}, err
	}
	for _, listing := range listings {
		parsed, err := domain.ParseStockType(listing.MaterialName)
		if err != nil || parsed != material {
			continue
		}
		return Quote{Supplier: s.name, Material: material, PricePerKg: listing.PricePerKg, Available: listing.Available}, nil
	}
	return Quote{}, fmt.Errorf("%s does not sell %s: %w", s.name, material, ErrNotFound)
}

func (s *SupplierClient) Order(ctx context.Context, material domain.StockType, quantity int) (PurchaseOrder, error) {
	var resp struct {
		OrderID     any             `json:"orderId"`
		Price       decimal.Decimal `json:"price"`
		BankAccount string          `json:"bankAccount"`
	}
	err := s.call(ctx, http.MethodPost, "/orders", map[string]any{
		"materialName":   string(material),
		"weightQuantity": quantity,
	}, &resp)
	if err != nil {
		return PurchaseOrder{}, err
	}
	ref := strings.TrimSpace(fmt.Sprint(resp.OrderID))
	if resp.OrderID == nil || ref == "" {
		return PurchaseOrder{}, ErrMalformed
	}
	return PurchaseOrder{
		OrderReference: s.name + "-" + ref,
		Supplier:       s.name,
		AccountNumber:  resp.BankAccount,
		TotalPrice:     resp.Price,
		PickupFrom:     s.name,
	}, nil
}

// CheapestQuote asks every supplier and returns the lowest price among those
// that can fill quantity. Failing suppliers are skipped.
func CheapestQuote(ctx context.Context, suppliers []Supplier, material domain.StockType, quantity int, logger logrus.FieldLogger) (Supplier, Quote, error) {
	type candidate struct {
		supplier Supplier
		quote    Quote
	}
	candidates := make([]candidate, 0, len(suppliers))
	for _, supplier := range suppliers {
		quote, err := supplier.Quote(ctx, material)
		if err != nil {
			if logger != nil {
				logger.WithField("supplier", supplier.Name()).Warn(err.Error())
			}
			continue
		}
		if quote.Available < quantity || !quote.PricePerKg.IsPositive() {
			continue
		}
		candidates = append(candidates, candidate{supplier: supplier, quote: quote})
	}
	if len(candidates) == 0 {
		return nil, Quote{}, fmt.Errorf("%d kg of %s: %w", quantity, material, ErrNoSupplier)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].quote.PricePerKg.LessThan(candidates[j].quote.PricePerKg)
	})
	return candidates[0].supplier, candidates[0].quote, nil
}
