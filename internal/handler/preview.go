package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/wire"
)

// couponRequest is the body shared by the preview and redemption endpoints.
type couponRequest struct {
	UserID   string
	Code     string
	Codes    []string
	CouponID string
	OrderID  string
	Order    coupon.OrderInput
}

func (req *couponRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			req.UserID, err = d.Str()
		case "code":
			req.Code, err = d.Str()
		case "codes":
			req.Codes, err = wire.DecodeStrings(d)
		case "couponId":
			req.CouponID, err = d.Str()
		case "orderId":
			req.OrderID, err = d.Str()
		case "order":
			req.Order, err = wire.DecodeOrderInput(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

// read decodes the body and validates the embedded order.
func (req *couponRequest) read(w http.ResponseWriter, r *http.Request) (coupon.OrderContext, error) {
	if err := decodeBody(w, r, req.decode); err != nil {
		return coupon.OrderContext{}, err
	}
	if req.Order.OrderID == "" {
		req.Order.OrderID = req.OrderID
	}
	return coupon.NewOrderContext(req.Order)
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	oc, err := req.read(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	offers, err := h.preview.ListAvailable(r.Context(), req.UserID, oc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeOffers(e, offers)
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	oc, err := req.read(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	q, err := h.preview.Validate(r.Context(), req.UserID, req.Code, oc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeQuote(e, q, oc)
	})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	oc, err := req.read(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	codes := req.Codes
	if len(codes) == 0 && req.Code != "" {
		codes = []string{req.Code}
	}
	q, err := h.preview.Quote(r.Context(), req.UserID, codes, oc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeStackQuote(e, q)
	})
}
