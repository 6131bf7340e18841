package handler

import (
	"net/http"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

type Exchange struct {
	base
	exchangeService *services.ExchangeService
}

func NewExchange(mux *http.ServeMux, exchangeService *services.ExchangeService, log logrus.FieldLogger) *Exchange {
	h := &Exchange{
		base:            newBase(log),
		exchangeService: exchangeService,
	}

	mux.HandleFunc("POST "+apiPrefix+"/exchange/list", h.createListing)
	mux.HandleFunc("GET "+apiPrefix+"/exchange/listings", h.activeListings)
	mux.HandleFunc("GET "+apiPrefix+"/exchange/listings/{listingId}", h.getListing)
	mux.HandleFunc("POST "+apiPrefix+"/exchange/listings/{listingId}/cancel", h.cancelListing)
	mux.HandleFunc("POST "+apiPrefix+"/exchange/buy", h.buy)

	return h
}

// @Summary List loyalty units for sale
// @Description Moves the units out of the seller's loyalty balance into an active listing
// @Tags exchange
// @Accept json
// @Produce json
// @Param request body models.ExchangeListRequest true "Listing"
// @Success 201 {object} models.ExchangeListResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Router /exchange/list [post]
func (h *Exchange) createListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ExchangeListRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.exchangeService.List(r.Context(), actor.UserID, req.Quantity, req.PricePerUnit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// @Summary Active listings
// @Tags exchange
// @Produce json
// @Success 200 {array} models.ExchangeListing
// @Router /exchange/listings [get]
func (h *Exchange) activeListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.exchangeService.ActiveListings(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listings)
}

// @Summary Get a listing
// @Tags exchange
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} models.ExchangeListing
// @Failure 404 {object} middleware.ErrorResponse
// @Router /exchange/listings/{listingId} [get]
func (h *Exchange) getListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.exchangeService.Get(r.Context(), r.PathValue("listingId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// @Summary Cancel a listing
// @Description Returns the listed units to the seller
// @Tags exchange
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} models.ExchangeListing
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /exchange/listings/{listingId}/cancel [post]
func (h *Exchange) cancelListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	listing, err := h.exchangeService.Cancel(r.Context(), actor.UserID, r.PathValue("listingId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// @Summary Buy a listing
// @Description Buys the whole listing; the platform keeps the exchange fee
// @Tags exchange
// @Accept json
// @Produce json
// @Param request body models.ExchangeBuyRequest true "Listing"
// @Success 200 {object} models.ExchangeBuyResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Router /exchange/buy [post]
func (h *Exchange) buy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ExchangeBuyRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.exchangeService.Buy(r.Context(), actor.UserID, req.ListingID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}
