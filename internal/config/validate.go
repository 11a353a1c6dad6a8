package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lucasnoah/qualitygate/internal/cmdtmpl"
	"github.com/lucasnoah/qualitygate/internal/fix"
	"github.com/lucasnoah/qualitygate/internal/gates"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report fields by their TOML key.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Field: "config", Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{Field: fieldName(fe), Message: tagMessage(fe)})
		}
	}

	parsers := make(map[string]bool)
	for _, n := range gates.AdapterNames() {
		parsers[n] = true
	}

	for _, g := range []struct {
		name string
		gate Gate
	}{
		{"lint", cfg.Gates.Lint},
		{"typecheck", cfg.Gates.Typecheck},
		{"test", cfg.Gates.Test},
	} {
		prefix := "gates." + g.name
		if !g.gate.Enabled {
			continue
		}
		if g.gate.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required when the gate is enabled"})
		} else if err := cmdtmpl.Check(g.gate.Command, gates.TemplateVars); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: err.Error()})
		}
		if !parsers[g.gate.Parser] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q (known: %s)", g.gate.Parser, strings.Join(gates.AdapterNames(), ", ")),
			})
		}
		if cmdtmpl.Uses(g.gate.Command, gates.VarReport) && g.gate.Report == "" {
			errs = append(errs, ValidationError{Field: prefix + ".report", Message: "is required when the command uses {{report}}"})
		}
		validateTimeout(prefix+".timeout", g.gate.Timeout, &errs)
		validateExtensions(prefix+".extensions", g.gate.Extensions, &errs)
	}

	for i, c := range cfg.Fix.Commands {
		if c.Command == "" {
			continue
		}
		if err := fix.CheckCommand(c.Command); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fix.commands[%d].command", i),
				Message: err.Error(),
			})
		}
	}
	validateTimeout("fix.timeout", cfg.Fix.Timeout, &errs)
	validateExtensions("fix.extensions", cfg.Fix.Extensions, &errs)

	return errs
}

func validateTimeout(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
	}
}

func validateExtensions(field string, exts []string, errs *[]ValidationError) {
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("extension %q must start with a dot", e)})
		}
	}
}

// fieldName turns "Config.policy.max_attempts" into "policy.max_attempts".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be a positive integer, got %v", fe.Value())
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
