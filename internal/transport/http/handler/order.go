package handler

import (
	"net/http"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

type Order struct {
	base
	orderService *services.OrderService
}

func NewOrder(mux *http.ServeMux, orderService *services.OrderService, log logrus.FieldLogger) *Order {
	h := &Order{
		base:         newBase(log),
		orderService: orderService,
	}

	mux.HandleFunc("POST "+apiPrefix+"/orders", h.createOrder)
	mux.HandleFunc("GET "+apiPrefix+"/orders", h.listOrders)
	mux.HandleFunc("GET "+apiPrefix+"/orders/{orderId}", h.getOrder)
	mux.HandleFunc("POST "+apiPrefix+"/orders/{orderId}/payment_confirmed", h.confirmPayment)
	mux.HandleFunc("POST "+apiPrefix+"/orders/{orderId}/confirm_delivery", h.confirmDelivery)
	mux.HandleFunc("POST "+apiPrefix+"/orders/{orderId}/cancel", h.cancelOrder)
	mux.HandleFunc("POST "+apiPrefix+"/orders/{orderId}/refund", h.refundOrder)

	return h
}

// @Summary Create an order
// @Description Creates a PENDING order for a product; nothing is debited yet
// @Tags orders
// @Accept json
// @Produce json
// @Param request body models.CreateOrderRequest true "Order"
// @Success 201 {object} models.CreateOrderResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /orders [post]
func (h *Order) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orderService.Create(r.Context(), actor.UserID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, models.CreateOrderResponse{
		OrderID:    order.ID,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
	})
}

// @Summary List my orders
// @Description Orders where the caller is buyer or seller, newest first
// @Tags orders
// @Produce json
// @Success 200 {array} models.Order
// @Router /orders [get]
func (h *Order) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orders, err := h.orderService.ListForUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// @Summary Get an order
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} middleware.ErrorResponse
// @Router /orders/{orderId} [get]
func (h *Order) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.orderService.Get(r.Context(), actor, r.PathValue("orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// @Summary Confirm payment
// @Description Verifies the payment and moves the buyer's funds into escrow
// @Tags orders
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param request body models.ConfirmPaymentRequest true "Payment reference"
// @Success 200 {object} models.OrderStatusResponse
// @Failure 402 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Router /orders/{orderId}/payment_confirmed [post]
func (h *Order) confirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ConfirmPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orderService.ConfirmPayment(r.Context(), actor.UserID, r.PathValue("orderId"), req.PaymentReference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.OrderStatusResponse{OrderID: order.ID, Status: order.Status})
}

// @Summary Confirm delivery
// @Description Releases escrow to the seller, charges the sale fee and rewards the buyer
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.ConfirmDeliveryResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Router /orders/{orderId}/confirm_delivery [post]
func (h *Order) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	resp, err := h.orderService.ConfirmDelivery(r.Context(), actor.UserID, r.PathValue("orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// @Summary Cancel an order
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.OrderStatusResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /orders/{orderId}/cancel [post]
func (h *Order) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.orderService.Cancel(r.Context(), actor.UserID, r.PathValue("orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.OrderStatusResponse{OrderID: order.ID, Status: order.Status})
}

// @Summary Refund an order
// @Description Returns escrowed funds to the buyer; seller or admin only
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.OrderStatusResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /orders/{orderId}/refund [post]
func (h *Order) refundOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.orderService.Refund(r.Context(), actor, r.PathValue("orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.OrderStatusResponse{OrderID: order.ID, Status: order.Status})
}
