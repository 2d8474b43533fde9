package quote

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/lock"
	"github.com/noah-isme/backend-quotes/internal/milestone"
)

var (
	// ErrNotFound is returned when a quote or line item does not exist.
	ErrNotFound = errors.New("quote not found")
	// ErrLineItemNotFound is returned when a line item does not belong to the quote.
	ErrLineItemNotFound = errors.New("line item not found")
	// ErrInvalidTransition rejects status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQuoteLocked rejects edits to accepted, declined or expired quotes.
	ErrQuoteLocked = errors.New("quote can no longer be edited")
	// ErrNotDraft rejects deletion of quotes that left draft.
	ErrNotDraft = errors.New("only draft quotes can be deleted")
)

// AsAppError maps domain errors onto API errors. Unknown errors are
// returned unchanged.
func AsAppError(err error) error {
	if err == nil || common.IsAppError(err) {
		return err
	}
	var mErr *milestone.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError(common.CodeNotFound, "quote not found", http.StatusNotFound, err)
	case errors.Is(err, ErrLineItemNotFound):
		return common.NewAppError(common.CodeNotFound, "line item not found", http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidTransition):
		return common.NewAppError(common.CodeInvalidTransition, err.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrQuoteLocked):
		return common.NewAppError(common.CodeQuoteLocked, ErrQuoteLocked.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrNotDraft):
		return common.NewAppError(common.CodeQuoteNotDraft, ErrNotDraft.Error(), http.StatusConflict, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return common.NewAppError(common.CodeQuoteBusy, "quote is being modified, retry shortly", http.StatusConflict, err)
	case errors.As(err, &mErr):
		return common.ValidationFailed(mErr.Error(), []common.FieldError{{
			Field:   "milestones",
			Rule:    "sum",
			Message: mErr.Error(),
		}})
	case errors.Is(err, milestone.ErrTooManyMilestones), errors.Is(err, milestone.ErrInvalidPercentage):
		return common.ValidationFailed(err.Error(), []common.FieldError{{
			Field:   "milestones",
			Rule:    "invalid",
			Message: err.Error(),
		}})
	}
	return err
}
