package model

import (
	"errors"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// MaxSegments 单次运行允许的最大分段数
const MaxSegments = 20

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 校验 brief，必要时补全参考图的 ContentType
func (b *CreativeBrief) Validate() error {
	if strings.TrimSpace(b.BasePrompt) == "" {
		return &ValidationError{Field: "base_prompt", Reason: "must not be empty"}
	}
	if err := validatorInstance().Struct(b); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Namespace(), Reason: describeTag(fe)}
		}
		return &ValidationError{Reason: err.Error()}
	}
	if b.InitialReference != nil {
		return b.InitialReference.normalize()
	}
	return nil
}

func (r *ReferenceImage) normalize() error {
	if len(r.Data) == 0 {
		return &ValidationError{Field: "initial_reference", Reason: "image is empty"}
	}
	detected := mimetype.Detect(r.Data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return &ValidationError{Field: "initial_reference", Reason: "not an image (detected " + detected.String() + ")"}
	}
	if strings.TrimSpace(r.ContentType) == "" {
		r.ContentType = detected.String()
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
