package matching

import (
	"github.com/go-playground/validator/v10"

	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
)

var validate = validator.New()

// SubmitRequest is the external shape of a submission, validated with
// struct tags before it ever reaches a category's writer.
type SubmitRequest struct {
	Side       string  `validate:"required,oneof=buy sell"`
	Category   string  `validate:"required,oneof=solar wind hydro biomass"`
	Quantity   float64 `validate:"required,gt=0"`
	LimitPrice float64 `validate:"required,gt=0"`
	UserID     string  `validate:"required"`
}

func validateSubmit(req SubmitRequest) error {
	if err := validate.Struct(req); err != nil {
		return engineerrors.Wrap(err, engineerrors.Validation, "invalid submission")
	}
	return nil
}
