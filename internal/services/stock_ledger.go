package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artisan-market/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller supplied an empty listing or non-positive quantity.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrListingNotFound indicates the listing does not exist.
	ErrListingNotFound = errors.New("stock: listing not found")
	// ErrListingInactive indicates the listing is not for sale.
	ErrListingInactive = errors.New("stock: listing inactive")
)

// StockErrorCode is the machine readable cause of a StockError.
type StockErrorCode string

const (
	StockErrorInsufficient StockErrorCode = "insufficient_stock"
	StockErrorNotFound     StockErrorCode = "listing_not_found"
	StockErrorInactive     StockErrorCode = "listing_inactive"
)

// StockError carries the listing and quantities behind a failed reservation.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ListingID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case StockErrorInsufficient:
		return fmt.Sprintf("%s: listing %s has %d available, %d requested", e.Op, e.ListingID, e.Available, e.Requested)
	default:
		return fmt.Sprintf("%s: listing %s: %s", e.Op, e.ListingID, e.Code)
	}
}

// Unwrap maps the code onto the package sentinel so callers can use errors.Is.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case StockErrorInsufficient:
		return ErrInsufficientStock
	case StockErrorNotFound:
		return ErrListingNotFound
	case StockErrorInactive:
		return ErrListingInactive
	}
	return nil
}

// StockLedgerDeps bundles collaborators for the stock ledger.
type StockLedgerDeps struct {
	Listings repositories.ListingRepository
	Clock    func() time.Time
	Logger   Logger
}

type stockLedger struct {
	listings repositories.ListingRepository
	clock    func() time.Time
	logger   Logger
}

var _ StockLedger = (*stockLedger)(nil)

// NewStockLedger constructs the ledger. It never opens transactions of its own: the
// caller's unit of work provides isolation.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Listings == nil {
		return nil, errors.New("stock ledger: listing repository is required")
	}
	return &stockLedger{
		listings: deps.Listings,
		clock:    defaultClock(deps.Clock),
		logger:   defaultLogger(deps.Logger),
	}, nil
}

func (l *stockLedger) Reserve(ctx context.Context, listingID string, quantity int) error {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" || quantity <= 0 {
		return fmt.Errorf("%w: listing id and positive quantity are required", ErrStockInvalidInput)
	}

	listing, err := l.listings.FindByID(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) {
			return &StockError{Op: "stock.reserve", Code: StockErrorNotFound, ListingID: listingID, Requested: quantity}
		}
		return mapRepositoryError(err, ErrListingNotFound, nil, "stock")
	}
	if !listing.Active {
		return &StockError{Op: "stock.reserve", Code: StockErrorInactive, ListingID: listingID, Requested: quantity, Available: listing.Stock}
	}
	if listing.Stock < quantity {
		return &StockError{Op: "stock.reserve", Code: StockErrorInsufficient, ListingID: listingID, Requested: quantity, Available: listing.Stock}
	}

	if err := l.listings.SetStock(ctx, listingID, listing.Stock-quantity, l.clock()); err != nil {
		return mapRepositoryError(err, ErrListingNotFound, nil, "stock")
	}
	l.logger(ctx, "stock.reserved", map[string]any{
		"listingId": listingID,
		"quantity":  quantity,
		"remaining": listing.Stock - quantity,
	})
	return nil
}

// Release adds quantity back unconditionally. Callers guard against double release.
func (l *stockLedger) Release(ctx context.Context, listingID string, quantity int) error {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" || quantity <= 0 {
		return fmt.Errorf("%w: listing id and positive quantity are required", ErrStockInvalidInput)
	}
	if err := l.listings.IncrementStock(ctx, listingID, quantity, l.clock()); err != nil {
		return mapRepositoryError(err, ErrListingNotFound, nil, "stock")
	}
	l.logger(ctx, "stock.released", map[string]any{
		"listingId": listingID,
		"quantity":  quantity,
	})
	return nil
}

func (l *stockLedger) ReserveLines(ctx context.Context, lines []StockLine) error {
	aggregated, err := aggregateStockLines(lines)
	if err != nil {
		return err
	}
	for _, line := range aggregated {
		if err := l.Reserve(ctx, line.ListingID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *stockLedger) ReleaseLines(ctx context.Context, lines []StockLine) error {
	aggregated, err := aggregateStockLines(lines)
	if err != nil {
		return err
	}
	for _, line := range aggregated {
		if err := l.Release(ctx, line.ListingID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// aggregateStockLines sums quantities per listing and sorts by listing id so each
// listing is touched once and lock order is deterministic.
func aggregateStockLines(lines []StockLine) ([]StockLine, error) {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ListingID)
		if id == "" {
			return nil, fmt.Errorf("%w: line listing id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, id)
		}
		totals[id] += line.Quantity
	}
	out := make([]StockLine, 0, len(totals))
	for id, qty := range totals {
		out = append(out, StockLine{ListingID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
	return out, nil
}
