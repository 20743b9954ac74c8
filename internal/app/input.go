package app

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"avatarstudio/api/internal/failure"
	"avatarstudio/api/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate decodes a JSON body and checks its struct tags. Failed
// checks are reported as validation errors naming the offending fields.
func decodeAndValidate(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return err
	}
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
	}
	fields := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, fe.Field())
	}
	return failure.Validation("app.input", "invalid fields: "+strings.Join(fields, ", "), fields...)
}

type profilePatchInput struct {
	Name               *string   `json:"name" validate:"omitempty,max=80"`
	OriginCountry      *string   `json:"originCountry" validate:"omitempty,max=80"`
	Age                *int      `json:"age" validate:"omitempty,min=0,max=1000"`
	Gender             *string   `json:"gender" validate:"omitempty,max=40"`
	PrimaryLanguage    *string   `json:"primaryLanguage" validate:"omitempty,max=40"`
	SecondaryLanguages *[]string `json:"secondaryLanguages" validate:"omitempty,dive,max=40"`
	Images             *[]string `json:"images" validate:"omitempty,dive,max=2048"`
	PersonaTags        *[]string `json:"personaTags" validate:"omitempty,dive,max=40"`
	MBTIType           *string   `json:"mbtiType" validate:"omitempty,max=4"`
	Backstory          *string   `json:"backstory" validate:"omitempty,max=20000"`
	HiddenRules        *string   `json:"hiddenRules" validate:"omitempty,max=20000"`
}

func (in profilePatchInput) toPatch() store.ProfilePatch {
	return store.ProfilePatch{
		Name:               in.Name,
		OriginCountry:      in.OriginCountry,
		Age:                in.Age,
		Gender:             in.Gender,
		PrimaryLanguage:    in.PrimaryLanguage,
		SecondaryLanguages: in.SecondaryLanguages,
		Images:             in.Images,
		PersonaTags:        in.PersonaTags,
		MBTIType:           in.MBTIType,
		Backstory:          in.Backstory,
		HiddenRules:        in.HiddenRules,
	}
}

type tagInput struct {
	Tag string `json:"tag" validate:"required,max=40"`
}

type languageInput struct {
	Language string `json:"language" validate:"required,max=40"`
}

type imageInput struct {
	URL string `json:"url" validate:"required"`
}

type exitInput struct {
	Confirmed bool `json:"confirmed"`
}
