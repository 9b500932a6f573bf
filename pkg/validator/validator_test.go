package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Username: "",
		Email:    "invalid",
		Age:      10,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("macroscope", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "macroscope"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"macroscope"`
	}

	if err := ValidateStruct(custom{Value: "macroscope"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func TestDefaultRules(t *testing.T) {
	type payload struct {
		Username string `json:"username" validate:"username"`
		Priority string `json:"priority" validate:"omitempty,priority"`
		Status   string `json:"status" validate:"omitempty,project_status"`
		Action   string `json:"action" validate:"respond_action"`
	}

	if err := ValidateStruct(payload{Username: "lab_user", Priority: "Urgent", Action: "approve"}); err != nil {
		t.Fatalf("expected payload to pass, got %v", err)
	}

	err := ValidateStruct(payload{Username: "a!", Priority: "critical", Status: "done", Action: "maybe"})
	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 4 {
		t.Fatalf("expected 4 failures, got %d: %v", len(vErrs), vErrs)
	}
}
