package handler

import (
	"net/http"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

type Product struct {
	base
	productService *services.ProductService
}

func NewProduct(mux *http.ServeMux, productService *services.ProductService, log logrus.FieldLogger) *Product {
	h := &Product{
		base:           newBase(log),
		productService: productService,
	}

	mux.HandleFunc("POST "+apiPrefix+"/products", h.createProduct)
	mux.HandleFunc("GET "+apiPrefix+"/products", h.listProducts)
	mux.HandleFunc("GET "+apiPrefix+"/products/{productId}", h.getProduct)
	mux.HandleFunc("DELETE "+apiPrefix+"/products/{productId}", h.deleteProduct)

	return h
}

// @Summary List a product
// @Description The price may not exceed the seller's selling power
// @Tags products
// @Accept json
// @Produce json
// @Param request body models.CreateProductRequest true "Product"
// @Success 201 {object} models.Product
// @Failure 400 {object} middleware.ErrorResponse
// @Router /products [post]
func (h *Product) createProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.productService.Create(r.Context(), actor.UserID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, product)
}

// @Summary Browse products
// @Tags products
// @Produce json
// @Param category query string false "Category"
// @Success 200 {array} models.Product
// @Router /products [get]
func (h *Product) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.productService.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

// @Summary Get a product
// @Tags products
// @Produce json
// @Param productId path string true "Product ID"
// @Success 200 {object} models.Product
// @Failure 404 {object} middleware.ErrorResponse
// @Router /products/{productId} [get]
func (h *Product) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.productService.Get(r.Context(), r.PathValue("productId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, product)
}

// @Summary Delete a product
// @Description Removes one of the caller's products from the catalogue
// @Tags products
// @Param productId path string true "Product ID"
// @Success 204
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /products/{productId} [delete]
func (h *Product) deleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.productService.Delete(r.Context(), actor.UserID, r.PathValue("productId")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
