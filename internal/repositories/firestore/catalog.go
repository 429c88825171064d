package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/artisan-market/api/internal/domain"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
)

type listingRepository struct {
	base *pfirestore.BaseRepository[domain.Listing]
}

func (r *listingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	return r.base.Get(ctx, listingID)
}

func (r *listingRepository) Upsert(ctx context.Context, listing domain.Listing) error {
	if listing.ID == "" {
		return errors.New("listing id is required")
	}
	return r.base.Set(ctx, listing.ID, listing)
}

func (r *listingRepository) SetStock(ctx context.Context, listingID string, stock int, updatedAt time.Time) error {
	return r.base.Update(ctx, listingID, []firestore.Update{
		{Path: "stock", Value: stock},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

func (r *listingRepository) IncrementStock(ctx context.Context, listingID string, delta int, updatedAt time.Time) error {
	return r.base.Update(ctx, listingID, []firestore.Update{
		{Path: "stock", Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

type showRepository struct {
	base *pfirestore.BaseRepository[domain.Show]
}

func (r *showRepository) FindByID(ctx context.Context, showID string) (domain.Show, error) {
	return r.base.Get(ctx, showID)
}

func (r *showRepository) Upsert(ctx context.Context, show domain.Show) error {
	if show.ID == "" {
		return errors.New("show id is required")
	}
	return r.base.Set(ctx, show.ID, show)
}

type cartRepository struct {
	base *pfirestore.BaseRepository[domain.Cart]
}

func (r *cartRepository) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	cart, err := r.base.Get(ctx, buyerID)
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{BuyerID: buyerID}, nil
		}
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepository) Upsert(ctx context.Context, cart domain.Cart) error {
	return r.base.Set(ctx, cart.BuyerID, cart)
}

func (r *cartRepository) Delete(ctx context.Context, buyerID string) error {
	return r.base.Delete(ctx, buyerID)
}
