package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
	"github.com/xenking/coupon-engine/internal/wire"
)

func (h *Handler) applyRedemption(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	oc, err := req.read(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx := r.Context()

	couponID := req.CouponID
	if couponID == "" && req.Code != "" {
		c, err := h.preview.Lookup(ctx, req.Code)
		if err != nil {
			fail(w, r, err)
			return
		}
		couponID = c.ID
	}
	if oc, err = coupon.EnrichCategories(ctx, h.categories, oc); err != nil {
		fail(w, r, err)
		return
	}

	red, err := h.redemptions.Apply(ctx, redemption.ApplyRequest{
		CouponID: couponID,
		UserID:   req.UserID,
		OrderID:  oc.OrderID,
		Order:    oc,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		wire.EncodeRedemption(e, red)
	})
}

func (h *Handler) removeRedemption(w http.ResponseWriter, r *http.Request) {
	rev, err := h.redemptions.Remove(r.Context(), r.PathValue("orderId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeReversal(e, rev)
	})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = wire.DecodePlaceOrder(d)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		wire.EncodePlacedOrder(e, res)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.CancelOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeCancelledOrder(e, res)
	})
}
