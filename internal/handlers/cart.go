package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current buyer.
type CartHandlers struct {
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	carts       services.CartService
}

type upsertCartItemRequest struct {
	Quantity        int      `json:"quantity"`
	Variant         string   `json:"variant"`
	Personalization string   `json:"personalization"`
	Customizations  []string `json:"customizations"`
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// WithIdempotency installs the Idempotency-Key middleware on mutating routes.
func (h *CartHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *CartHandlers {
	h.idempotency = mw
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	useBuyerMiddlewares(r, h.authn, h.idempotency)
	r.Get("/", h.getCart)
	r.Put("/items/{listingID}", h.upsertItem)
	r.Delete("/items/{listingID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, cart)
}

func (h *CartHandlers) upsertItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	listingID, ok := pathParam(w, r, "listingID", "listing id")
	if !ok {
		return
	}
	var req upsertCartItemRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	item := toCartItem(cartItemRequest{
		ListingID:       listingID,
		Quantity:        req.Quantity,
		Variant:         req.Variant,
		Personalization: req.Personalization,
		Customizations:  req.Customizations,
	})
	cart, err := h.carts.UpsertItem(ctx, services.UpsertCartItemCommand{
		BuyerID:         strings.TrimSpace(identity.UID),
		ListingID:       item.ListingID,
		Quantity:        item.Quantity,
		Variant:         item.Variant,
		Personalization: item.Personalization,
		Customizations:  item.Customizations,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	listingID, ok := pathParam(w, r, "listingID", "listing id")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, strings.TrimSpace(identity.UID), listingID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, cart)
}

func writeCart(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func buildCartETag(cart services.Cart) string {
	if cart.UpdatedAt.IsZero() && len(cart.Items) == 0 {
		return ""
	}
	hash := sha256.New()
	fmt.Fprintf(hash, "%s|%d", cart.BuyerID, cart.UpdatedAt.UnixNano())
	for _, item := range cart.Items {
		fmt.Fprintf(hash, "|%s:%d:%s", item.ListingID, item.Quantity, item.Variant)
	}
	return `W/"` + hex.EncodeToString(hash.Sum(nil))[:16] + `"`
}
