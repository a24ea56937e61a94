package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type enumValue interface {
	Valid() bool
}

var entityValidator = newEntityValidator()

func newEntityValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(enumValue)
		return ok && value.Valid()
	})
	return v
}

// validateEntity runs the struct tags on entity and folds every failure into
// one ErrValidation.
func validateEntity(kind string, entity any) error {
	err := entityValidator.Struct(entity)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s: %v", ErrValidation, kind, err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s: %s", ErrValidation, kind, strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "enum":
		return fmt.Sprintf("%s %q is not a known value", field, fe.Value())
	case "fqdn":
		return fmt.Sprintf("%s %q is not a fully qualified domain name", field, fe.Value())
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("%s %q is not a hostname or IP address", field, fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrValidation, kind)
	}
	return nil
}

func validateCredentialData(t CredentialType, data CredentialData) error {
	var missing []string
	need := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	switch t {
	case CredentialTypeSSHKey:
		need(data.Username, "username")
		need(data.KeyPath, "key_path")
	case CredentialTypeSSHAgent:
		need(data.Username, "username")
	case CredentialTypeAPIToken:
		need(data.Token, "token")
	case CredentialTypeBasicAuth:
		need(data.Username, "username")
		need(data.Password, "password")
	case CredentialTypeOAuth:
		need(data.AccessToken, "access_token")
	}
	if data.Port < 0 || data.Port > 65535 {
		return fmt.Errorf("%w: credential: port %d out of range", ErrValidation, data.Port)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: credential: %s requires %s", ErrValidation, t, strings.Join(missing, ", "))
	}
	return nil
}
