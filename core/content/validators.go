package content

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// required attributes per collection
var requiredAttributes = map[Collection][]string{
	Events:     {"venue"},
	Workshops:  {"instructor"},
	Students:   {"department", "year"},
	Courses:    {"code", "duration"},
	Placements: {"company", "package"},
}

var (
	dateRequiredTag  = "daterequired"
	dateRequiredText = "a date is required for {0}"

	summaryRequiredTag  = "summaryrequired"
	summaryRequiredText = "a summary is required for {0}"

	attrRequiredTag  = "attrrequired"
	attrRequiredText = "this attribute is required"
)

// InitValidators registers the per-collection rules of DocumentInput.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(documentStructValidation, DocumentInput{})

	_ = validate.RegisterTranslation(
		dateRequiredTag, translator,
		func(t ut.Translator) error { return t.Add(dateRequiredTag, dateRequiredText, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(dateRequiredTag, fe.Param())
			return s
		},
	)
	_ = validate.RegisterTranslation(
		summaryRequiredTag, translator,
		func(t ut.Translator) error { return t.Add(summaryRequiredTag, summaryRequiredText, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(summaryRequiredTag, fe.Param())
			return s
		},
	)
	core.RegisterCustomTranslation(validate, translator, attrRequiredTag, attrRequiredText)
}

func documentStructValidation(sl validator.StructLevel) {
	in, ok := sl.Current().Interface().(DocumentInput)
	if !ok {
		return
	}
	coll := string(in.Collection)

	switch in.Collection {
	case Events, Workshops:
		if in.Date == nil || in.Date.IsZero() {
			sl.ReportError(in.Date, "date", "Date", dateRequiredTag, coll)
		}
	case News:
		if in.Summary == "" {
			sl.ReportError(in.Summary, "summary", "Summary", summaryRequiredTag, coll)
		}
	}

	for _, attr := range requiredAttributes[in.Collection] {
		if in.Attributes[attr] == "" {
			name := "attributes." + attr
			sl.ReportError(in.Attributes, name, name, attrRequiredTag, "")
		}
	}
}
