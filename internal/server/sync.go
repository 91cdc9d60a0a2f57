package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/canyapan/fxsync/internal/errs"
)

// HeaderSyncID carries the ID of the sync run in the response.
const HeaderSyncID = "X-Sync-Id"

var validate = validator.New()

// SyncHandler triggers a rate sync for the currency pair in the path.
type SyncHandler struct {
	Updater RateUpdater
}

// Compile-time check to ensure SyncHandler implements http.Handler
var _ http.Handler = (*SyncHandler)(nil)

// ServeHTTP implements http.Handler interface.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(ctx, w, http.StatusMethodNotAllowed,
			"Invalid http method received. It may be wrong or not supported by this operation. Try, [POST].")
		return
	}

	base := strings.ToUpper(r.PathValue("base"))
	target := strings.ToUpper(r.PathValue("target"))
	if err := validateCurrencies(base, target); err != nil {
		writeError(ctx, w, err)
		return
	}

	syncID, err := h.Updater.UpdateRate(ctx, base, target)
	if syncID != "" {
		w.Header().Set(HeaderSyncID, syncID)
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validateCurrencies checks both path values are ISO 4217 codes and reports
// every violation in one message.
func validateCurrencies(base, target string) error {
	var sb strings.Builder
	sb.WriteString("Validation exception occurred.")
	n := 0

	for _, field := range []struct{ name, value string }{{"base", base}, {"target", target}} {
		err := validate.Var(field.value, "required,iso4217")
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				n++
				fmt.Fprintf(&sb, " [%d], on property '%s', failed '%s' validation.", n, field.name, fe.Tag())
			}
		} else if err != nil {
			return errs.New(errs.KindInvalidInput, "validate currencies", err)
		}
	}

	if n == 0 {
		return nil
	}
	return &errs.IntegrationError{Kind: errs.KindInvalidInput, Op: "validate currencies", Err: errors.New(sb.String())}
}
