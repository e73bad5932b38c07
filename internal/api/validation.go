// Package api - Request binding and validation
package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding rules on gin's validator:
// hhmm ("HH:mm" 24h clock) and weekdays (comma-separated 0..6).
// Field names in errors use the json tag.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		if err = v.RegisterValidation("hhmm", validateHHMM); err != nil {
			return
		}
		err = v.RegisterValidation("weekdays", validateWeekdays)
	})
	return err
}

func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

func validateHHMM(fl validator.FieldLevel) bool {
	_, ok := engine.ParseHHMM(fl.Field().String())
	return ok
}

func validateWeekdays(fl validator.FieldLevel) bool {
	_, err := models.ParseWeekdaySet(fl.Field().String())
	return err == nil
}

// bind decodes the body with the binding matching the content type and
// converts binding failures into application errors
func bind(c *gin.Context, v interface{}) error {
	if err := c.ShouldBind(v); err != nil {
		return bindingError(err)
	}
	return nil
}

// bindJSON decodes a JSON body; an empty body is treated as an empty object
func bindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return bindingError(binding.Validator.ValidateStruct(v))
		}
		return bindingError(err)
	}
	return nil
}

func bindingError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewValidationError(fe.Field(), fieldMessage(fe))
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &typeErr):
		return errors.NewValidationError(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
	case stderrors.As(err, &syntaxErr):
		return errors.NewBadRequestError("Malformed JSON body")
	}
	return errors.NewBadRequestError("Invalid request body")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be an email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "hhmm":
		return fmt.Sprintf("%s must be in HH:mm format", field)
	case "weekdays":
		return fmt.Sprintf("%s must be comma-separated weekdays 0-6", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
