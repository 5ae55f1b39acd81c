package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/media"
	"github.com/jensholdgaard/bazaar/internal/store"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, errorBody{Error: msg})
}

// fail maps err to a status code and a message fit for users. Anything
// unexpected is logged and answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var below *auction.BelowMinimumError
	switch {
	case errors.As(err, &below):
		respondError(w, http.StatusUnprocessableEntity, "Your bid must be at least "+market.Money(below.Minimum))
	case errors.Is(err, auction.ErrAuctionEnded):
		respondError(w, http.StatusConflict, "This auction has ended.")
	case errors.Is(err, market.ErrUnavailable):
		respondError(w, http.StatusConflict, "This listing is no longer available.")
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, "listing changed, please retry")
	case errors.Is(err, store.ErrDuplicate):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, market.ErrHasBids), errors.Is(err, market.ErrHasOrders):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, market.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auction.ErrNotAuction):
		respondError(w, http.StatusUnprocessableEntity, "This listing is not an auction.")
	case errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, auction.ErrIncompleteTerms),
		errors.Is(err, market.ErrInvalidListing),
		errors.Is(err, market.ErrInvalidCategory):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrUnsupportedType):
		respondError(w, http.StatusUnsupportedMediaType, media.ErrUnsupportedType.Error())
	case errors.Is(err, media.ErrTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, media.ErrTooLarge.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			f, _ := d.Float64()
			return f
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			f, _ := d.Decimal.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}

// decode reads a JSON body into dst and validates it. On failure the response
// has been written and false is returned.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	err := s.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		s.fail(w, r, err)
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Fields: fields})
	return false
}
