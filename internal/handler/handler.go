// Package handler exposes the coupon engine over HTTP.
package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

const maxBodySize = 1 << 20

// Services are the domain collaborators behind the API.
type Services struct {
	Preview     *coupon.Service
	Redemptions *redemption.Service
	Orders      *order.Service
	Admin       *coupon.Admin
	// Categories fills missing item categories on redemption requests. May
	// be nil.
	Categories coupon.CategoryResolver
}

// Handler serves the preview, order lifecycle and admin endpoints.
type Handler struct {
	preview     *coupon.Service
	redemptions *redemption.Service
	orders      *order.Service
	admin       *coupon.Admin
	categories  coupon.CategoryResolver
	now         func() time.Time
}

// New creates a Handler.
func New(s Services) *Handler {
	return &Handler{
		preview:     s.Preview,
		redemptions: s.Redemptions,
		orders:      s.Orders,
		admin:       s.Admin,
		categories:  s.Categories,
		now:         time.Now,
	}
}

// Register adds the API routes to mux. Preview endpoints are public; the
// rest require an API key with the matching scope.
func (h *Handler) Register(mux *http.ServeMux, sec *Security) {
	mux.HandleFunc("POST /api/coupons/available", h.available)
	mux.HandleFunc("POST /api/coupons/validate", h.validate)
	mux.HandleFunc("POST /api/coupons/quote", h.quote)

	redeem := sec.Require(auth.ScopeRedeem)
	mux.Handle("POST /api/redemptions", redeem(http.HandlerFunc(h.applyRedemption)))
	mux.Handle("DELETE /api/redemptions/{orderId}", redeem(http.HandlerFunc(h.removeRedemption)))
	mux.Handle("POST /api/orders", redeem(http.HandlerFunc(h.placeOrder)))
	mux.Handle("POST /api/orders/{orderId}/cancel", redeem(http.HandlerFunc(h.cancelOrder)))

	admin := sec.Require(auth.ScopeAdmin)
	mux.Handle("POST /api/admin/coupons", admin(http.HandlerFunc(h.createCoupon)))
	mux.Handle("GET /api/admin/coupons/{id}", admin(http.HandlerFunc(h.getCoupon)))
	mux.Handle("PUT /api/admin/coupons/{id}", admin(http.HandlerFunc(h.updateCoupon)))
	mux.Handle("DELETE /api/admin/coupons/{id}", admin(http.HandlerFunc(h.deleteCoupon)))
	mux.Handle("POST /api/admin/coupons/{id}/deactivate", admin(http.HandlerFunc(h.deactivateCoupon)))
}

// inputError marks a request that could not be read or decoded.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

func (e *inputError) Unwrap() error { return e.err }

// decodeBody reads the request body and hands it to fn.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return &inputError{err: errors.Wrap(err, "read body")}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &inputError{err: errors.New("request body is required")}
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return &inputError{err: errors.Wrap(err, "decode body")}
	}
	return nil
}

// writeJSON encodes a response body with fn.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
