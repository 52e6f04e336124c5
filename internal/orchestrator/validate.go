package orchestrator

import (
	"strings"

	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/filter"
	"github.com/hybridcore/core/internal/model"
)

const maxQueryLength = 512

// validateRequest checks a SearchRequest's field invariants before any
// retrieval work starts, returning a KindInvalidRequest CoreError
// describing the first violation found.
func validateRequest(req model.SearchRequest) (model.SearchRequest, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, coreerrors.InvalidRequest("query must not be empty", nil)
	}
	if len(req.Query) > maxQueryLength {
		return req, coreerrors.InvalidRequest("query exceeds maximum length of 512 characters", nil)
	}
	if req.Page < 1 {
		return req, coreerrors.InvalidRequest("page must be >= 1", nil)
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		return req, coreerrors.InvalidRequest("page_size must be between 1 and 100", nil)
	}
	if err := filter.Validate(req.Filters); err != nil {
		return req, err
	}
	return req, nil
}
