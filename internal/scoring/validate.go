package scoring

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInput matches every *ValidationError via errors.Is
var ErrInvalidInput = errors.New("invalid scoring input")

// FieldError names one rejected input field
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every input field that failed validation
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Field, f.Reason))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate runs the input checks ahead of scoring. Loan fields are always
// rejected when invalid. Factor scores outside [0,100] are rejected or
// clamped according to the policy; non-finite factor scores are always
// rejected. The returned Input is the (possibly clamped) copy to score.
func (e *Engine) Validate(in Input) (Input, error) {
	verr := &ValidationError{}

	if err := e.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Input{}, fmt.Errorf("failed to validate input: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fe.Field(), describe(fe))
		}
	}
	if !finite(in.LoanAmount) && !verr.has("loan_amount") {
		verr.add("loan_amount", "must be a finite number")
	}
	if in.LoanAmount < e.policy.MinLoanAmount && !verr.has("loan_amount") {
		verr.add("loan_amount", fmt.Sprintf("must be at least %g", e.policy.MinLoanAmount))
	}
	if !finite(in.MonthlyIncome) && !verr.has("monthly_income") {
		verr.add("monthly_income", "must be a finite number")
	}
	if err := e.validate.Var(in.LoanTermMonths, fmt.Sprintf("lte=%d", e.policy.MaxTermMonths)); err != nil {
		verr.add("loan_term_months", fmt.Sprintf("must not exceed %d months", e.policy.MaxTermMonths))
	}

	factors := in.Factors
	for name, score := range in.Factors.ByName() {
		switch {
		case !finite(score):
			verr.add("factors."+string(name), "must be a finite number")
		case score < 0 || score > 100:
			if e.policy.FactorRange == FactorRangeClamp {
				factors = factors.With(name, math.Max(0, math.Min(100, score)))
				continue
			}
			verr.add("factors."+string(name), "must be within [0,100]")
		}
	}

	if len(verr.Fields) > 0 {
		sort.Slice(verr.Fields, func(i, j int) bool { return verr.Fields[i].Field < verr.Fields[j].Field })
		return Input{}, verr
	}
	in.Factors = factors
	return in, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
