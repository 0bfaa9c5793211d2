package telemetry

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrInvalidOptions wraps every sink option validation failure.
var ErrInvalidOptions = errors.New("telemetry: invalid sink options")

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateOptions(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return errors.Wrap(ErrInvalidOptions, strings.Join(fields, ", "))
}
