package http

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// resourceName matches dataset names and model ids as the stores accept them.
var resourceName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	_ = validate.RegisterValidation("resource_name", func(fl validator.FieldLevel) bool {
		return resourceName.MatchString(fl.Field().String())
	})
}

// ReadAndValidateRequest binds req, applies `default` tags and validates it.
// A nil result means req is ready to use; otherwise it is []ValidationError.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg, params := describe(fe)
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: msg,
				Params:  params,
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprintf("%v", he.Message)
	}
	return []ValidationError{{Code: "ERR_BIND", Message: msg}}
}

type ruleText struct {
	format string // field, then the tag parameter when param is set
	param  string // key under which Params carries the tag parameter
}

var rules = map[string]ruleText{
	"required":      {format: "%s is required"},
	"gt":            {format: "%s must be greater than %s", param: "value"},
	"gte":           {format: "%s must be at least %s", param: "min"},
	"lt":            {format: "%s must be less than %s", param: "value"},
	"lte":           {format: "%s must be at most %s", param: "max"},
	"resource_name": {format: "%s must start with a letter or digit and contain only letters, digits, '_' or '-' (max 128)"},
}

func describe(fe validator.FieldError) (string, map[string]interface{}) {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		unit := ""
		switch fe.Kind() {
		case reflect.String:
			unit = " characters"
		case reflect.Map, reflect.Slice:
			unit = " entries"
		}
		return fmt.Sprintf("%s must have %s %s%s", field, bound, param, unit),
			map[string]interface{}{fe.Tag(): param}
	case "oneof":
		opts := strings.Fields(param)
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(opts, ", ")),
			map[string]interface{}{"options": opts}
	}

	r, ok := rules[fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag()), nil
	}
	if r.param == "" {
		return fmt.Sprintf(r.format, field), nil
	}
	return fmt.Sprintf(r.format, field, param), map[string]interface{}{r.param: param}
}
