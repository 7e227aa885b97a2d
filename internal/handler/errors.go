package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
	"github.com/xenking/coupon-engine/pkg/httpmiddleware"
)

const retryMessage = "service temporarily unavailable, retry the request"

// fail maps a domain error to a status code and writes the error body.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		input       *inputError
		ineligible  *coupon.IneligibleError
		definition  *coupon.DefinitionError
		unknownItem *order.ProductNotFoundError
	)
	switch {
	case errors.As(err, &input), errors.As(err, &definition), errors.As(err, &unknownItem),
		errors.Is(err, coupon.ErrMissingCode),
		errors.Is(err, coupon.ErrInvalidOrder),
		errors.Is(err, redemption.ErrInvalidRequest),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrMissingUser):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &ineligible):
		writeIneligible(w, http.StatusUnprocessableEntity, ineligible.Code, ineligible.Reason)

	case errors.Is(err, redemption.ErrConcurrencyConflict):
		writeIneligible(w, http.StatusConflict, "", coupon.ReasonUsageCapReached)

	case errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, coupon.ErrOrderNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, redemption.ErrAlreadyRedeemed),
		errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, coupon.ErrCouponInUse):
		httpmiddleware.WriteError(w, http.StatusConflict, err.Error())

	case redemption.IsRetryable(err):
		zctx.From(r.Context()).Warn("Persistence failure", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, retryMessage)

	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeIneligible writes an error body carrying the machine-readable reason.
func writeIneligible(w http.ResponseWriter, status int, code string, reason coupon.Reason) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(reason.Message())
		e.FieldStart("reason")
		e.Str(string(reason))
		if code != "" {
			e.FieldStart("couponCode")
			e.Str(code)
		}
		e.ObjEnd()
	})
}
