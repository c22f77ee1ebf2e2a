package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/go-playground/validator/v10"
)

const defaultDurationMinutes = 60

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// в ошибках поля называются так же, как в JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		_, _, err := model.ParseClock(value)
		return err == nil
	})

	return v
}

// validationFailure берёт первое нарушенное правило
func validationFailure(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := errs[0]
	field := strings.TrimPrefix(fe.Namespace(), rootNamespace(fe))
	if field == "" {
		field = fe.Field()
	}

	return &ValidationError{Field: field, Message: ruleMessage(fe)}
}

func rootNamespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must have at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "clock":
		return "must be a time in HH:MM format"
	default:
		return "failed on " + fe.Tag()
	}
}
