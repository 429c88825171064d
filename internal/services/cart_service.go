package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the listing is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartEmpty indicates checkout was attempted with no items.
	ErrCartEmpty = errors.New("cart: empty")
)

const (
	maxCartItemQuantity      = 99
	maxCartLines             = 50
	maxPersonalizationLength = 280
	maxVariantLength         = 64
)

var personalizationPolicy = bluemonday.StrictPolicy()

// CartServiceDeps wires the repositories used by cart operations.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Listings   repositories.ListingRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
}

type cartService struct {
	carts    repositories.CartRepository
	listings repositories.ListingRepository
	unit     repositories.UnitOfWork
	now      func() time.Time
	logger   Logger
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Listings == nil {
		return nil, errors.New("cart service: listing repository is required")
	}
	return &cartService{
		carts:    deps.Carts,
		listings: deps.Listings,
		unit:     defaultUnitOfWork(deps.UnitOfWork),
		now:      defaultClock(deps.Clock),
		logger:   defaultLogger(deps.Logger),
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, buyerID string) (Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		return Cart{}, mapRepositoryError(err, nil, nil, "cart")
	}
	cart.BuyerID = buyerID
	return cart, nil
}

// UpsertItem replaces the cart line for the listing. Stock is only checked here as a
// hint; the authoritative reservation happens at checkout.
func (s *cartService) UpsertItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if buyerID == "" || listingID == "" {
		return Cart{}, fmt.Errorf("%w: buyer id and listing id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}
	variant := strings.TrimSpace(cmd.Variant)
	if utf8.RuneCountInString(variant) > maxVariantLength {
		return Cart{}, fmt.Errorf("%w: variant exceeds %d characters", ErrCartInvalidInput, maxVariantLength)
	}
	personalization, err := sanitizePersonalization(cmd.Personalization)
	if err != nil {
		return Cart{}, err
	}
	customizations, err := normalizeCustomizations(cmd.Customizations)
	if err != nil {
		return Cart{}, err
	}

	var result Cart
	err = s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		listing, err := s.listings.FindByID(txCtx, listingID)
		if err != nil {
			if isRepoNotFound(err) {
				return &StockError{Op: "cart.upsert", Code: StockErrorNotFound, ListingID: listingID, Requested: cmd.Quantity}
			}
			return err
		}
		if !listing.Active {
			return &StockError{Op: "cart.upsert", Code: StockErrorInactive, ListingID: listingID, Requested: cmd.Quantity}
		}
		if listing.Stock < cmd.Quantity {
			return &StockError{Op: "cart.upsert", Code: StockErrorInsufficient, ListingID: listingID, Requested: cmd.Quantity, Available: listing.Stock}
		}
		for _, custom := range customizations {
			if _, ok := listing.CustomizationOptions[custom]; !ok {
				return fmt.Errorf("%w: customization %s not offered for listing %s", ErrCartInvalidInput, custom, listingID)
			}
		}

		cart, err := s.carts.Get(txCtx, buyerID)
		if err != nil {
			return err
		}
		now := s.now()
		line := CartItem{
			ListingID:       listingID,
			Quantity:        cmd.Quantity,
			Variant:         variant,
			Personalization: personalization,
			Customizations:  customizations,
			AddedAt:         now,
		}
		replaced := false
		for i := range cart.Items {
			if cart.Items[i].ListingID == listingID {
				line.AddedAt = cart.Items[i].AddedAt
				cart.Items[i] = line
				replaced = true
				break
			}
		}
		if !replaced {
			if len(cart.Items) >= maxCartLines {
				return fmt.Errorf("%w: cart holds at most %d lines", ErrCartInvalidInput, maxCartLines)
			}
			cart.Items = append(cart.Items, line)
		}
		cart.BuyerID = buyerID
		cart.UpdatedAt = now
		if err := s.carts.Upsert(txCtx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return Cart{}, mapRepositoryError(err, nil, nil, "cart")
	}
	s.logger(ctx, "cart.item_upserted", map[string]any{
		"buyerId":   buyerID,
		"listingId": listingID,
		"quantity":  cmd.Quantity,
	})
	return result, nil
}

func (s *cartService) RemoveItem(ctx context.Context, buyerID, listingID string) (Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	listingID = strings.TrimSpace(listingID)
	if buyerID == "" || listingID == "" {
		return Cart{}, fmt.Errorf("%w: buyer id and listing id are required", ErrCartInvalidInput)
	}

	var result Cart
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.Get(txCtx, buyerID)
		if err != nil {
			return err
		}
		kept := cart.Items[:0]
		found := false
		for _, item := range cart.Items {
			if item.ListingID == listingID {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return ErrCartItemNotFound
		}
		cart.BuyerID = buyerID
		cart.Items = kept
		cart.UpdatedAt = s.now()
		if err := s.carts.Upsert(txCtx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return Cart{}, mapRepositoryError(err, nil, nil, "cart")
	}
	return result, nil
}

func (s *cartService) Clear(ctx context.Context, buyerID string) error {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Delete(ctx, buyerID); err != nil && !isRepoNotFound(err) {
		return mapRepositoryError(err, nil, nil, "cart")
	}
	return nil
}

// sanitizePersonalization strips markup and caps the engraving text.
func sanitizePersonalization(raw string) (string, error) {
	cleaned := html.UnescapeString(personalizationPolicy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > maxPersonalizationLength {
		return "", fmt.Errorf("%w: personalization exceeds %d characters", ErrCartInvalidInput, maxPersonalizationLength)
	}
	return cleaned, nil
}

func normalizeCustomizations(values []domain.CustomizationType) ([]domain.CustomizationType, error) {
	if len(values) == 0 {
		return nil, nil
	}
	seen := make(map[domain.CustomizationType]struct{}, len(values))
	out := make([]domain.CustomizationType, 0, len(values))
	for _, value := range values {
		custom := domain.CustomizationType(strings.ToUpper(strings.TrimSpace(string(value))))
		switch custom {
		case domain.CustomizationEngraving, domain.CustomizationGiftWrap,
			domain.CustomizationPortrait, domain.CustomizationConsultation:
		default:
			return nil, fmt.Errorf("%w: unknown customization %q", ErrCartInvalidInput, value)
		}
		if _, ok := seen[custom]; ok {
			continue
		}
		seen[custom] = struct{}{}
		out = append(out, custom)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
