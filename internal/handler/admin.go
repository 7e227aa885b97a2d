package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/wire"
)

// writeCoupon writes a coupon with its derived status.
func (h *Handler) writeCoupon(w http.ResponseWriter, status int, c *coupon.Coupon) {
	now := h.now()
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		wire.CouponFields(e, c)
		e.FieldStart("status")
		e.Str(string(c.Status(now)))
		e.ObjEnd()
	})
}

func readCoupon(w http.ResponseWriter, r *http.Request) (*coupon.Coupon, error) {
	var c *coupon.Coupon
	err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		c, err = wire.DecodeCoupon(d)
		return err
	})
	return c, err
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := readCoupon(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	created, err := h.admin.Create(r.Context(), c)
	if err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Coupon created",
		zap.String("coupon_id", created.ID),
		zap.String("code", created.Code),
	)
	h.writeCoupon(w, http.StatusCreated, created)
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, c)
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := readCoupon(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c.ID = r.PathValue("id")

	updated, err := h.admin.Update(r.Context(), c)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCoupon(w, http.StatusOK, updated)
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Coupon deactivated", zap.String("coupon_id", c.ID))
	h.writeCoupon(w, http.StatusOK, c)
}
