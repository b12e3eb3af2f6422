package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/freightlane/notify-api/internal/model"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
)

// FieldError is one failed constraint, named by its json field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the notification enums registered.
type Validator struct {
	v *validator.Validate
}

var (
	once     sync.Once
	instance *Validator
)

// Default returns the process-wide validator.
func Default() *Validator {
	once.Do(func() {
		instance = New()
	})
	return instance
}

func New() *Validator {
	v := validator.New()
	Register(v)
	return &Validator{v: v}
}

// Register installs the custom tags and json field naming on v.
func Register(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notification_kind", func(fl validator.FieldLevel) bool {
		return model.NotificationKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		return model.Channel(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return model.Priority(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("user_type", func(fl validator.FieldLevel) bool {
		return model.UserType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
}

// RegisterGin installs the same tags on gin's binding engine.
func RegisterGin() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		Register(v)
	}
}

// Struct validates obj and returns a BadRequest AppError listing every failed field.
func (val *Validator) Struct(obj interface{}) error {
	err := val.v.Struct(obj)
	if err == nil {
		return nil
	}
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return apperrors.BadRequest("validation failed", err)
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return apperrors.BadRequest("validation failed: "+strings.Join(parts, "; "), err)
}

// Var validates a single value against tag.
func (val *Validator) Var(field interface{}, tag string) error {
	return val.v.Var(field, tag)
}

// FieldErrors flattens validator errors into FieldError values.
func FieldErrors(err error) []FieldError {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: e.Field(), Message: message(e)})
	}
	return out
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "notification_kind":
		return fmt.Sprintf("unknown notification kind %q", e.Value())
	case "channel":
		return fmt.Sprintf("unknown channel %q", e.Value())
	case "priority":
		return fmt.Sprintf("unknown priority %q", e.Value())
	case "user_type":
		return fmt.Sprintf("unknown user type %q", e.Value())
	case "clock":
		return "must be HH:MM"
	case "timezone":
		return "must be an IANA timezone"
	case "email":
		return "must be a valid email"
	case "e164":
		return "must be an E.164 phone number"
	default:
		return fmt.Sprintf("failed %s", e.Tag())
	}
}
