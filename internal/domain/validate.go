package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/tbourn/go-digest-backend/internal/schedule"
)

// Settings limits.
const (
	MaxTopics       = 5
	MaxCustomPrompt = 500
	MaxUserIDLen    = 128
)

// ValidationError reports a malformed settings field. It is raised at
// settings-write time and never reaches the scheduler.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// settingsRules mirrors the user-editable part of DigestSettings with
// validator tags; field names are the JSON names reported to clients.
type settingsRules struct {
	UserID       string   `json:"userId"       validate:"required,max=128"`
	ScheduleTime string   `json:"scheduleTime" validate:"required,hhmm"`
	Timezone     string   `json:"timezone"     validate:"required,max=64"`
	Topics       []string `json:"topics"       validate:"min=1,max=5,dive,required,max=64"`
	CustomPrompt string   `json:"customPrompt" validate:"max=500"`
	Language     string   `json:"language"     validate:"required,digestlang"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			return schedule.ValidClock(fl.Field().String())
		})
		_ = v.RegisterValidation("digestlang", func(fl validator.FieldLevel) bool {
			_, ok := NormalizeLanguage(fl.Field().String())
			return ok
		})
		validate = v
	})
	return validate
}

// ValidateSettings checks s against the settings rules and returns the first
// violation as a *ValidationError.
func ValidateSettings(s *DigestSettings) error {
	if s == nil {
		return &ValidationError{Field: "settings", Reason: "missing"}
	}
	in := settingsRules{
		UserID:       strings.TrimSpace(s.UserID),
		ScheduleTime: s.ScheduleTime,
		Timezone:     s.Timezone,
		Topics:       []string(s.Topics),
		CustomPrompt: s.CustomPrompt,
		Language:     s.Language,
	}
	err := settingsValidator().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "settings", Reason: err.Error()}
	}
	return toValidationError(verrs[0])
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	if strings.HasPrefix(field, "topics[") {
		field = "topics"
	}
	switch field {
	case "scheduleTime":
		return &ValidationError{Field: field, Reason: "must be in HH:mm format"}
	case "topics":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must select 1-%d non-empty topics", MaxTopics)}
	case "customPrompt":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", MaxCustomPrompt)}
	case "language":
		return &ValidationError{Field: field, Reason: "must be one of " + strings.Join(LanguageCodes(), ", ")}
	case "userId":
		if fe.Tag() == "required" {
			return &ValidationError{Field: field, Reason: "is required"}
		}
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", MaxUserIDLen)}
	default:
		return &ValidationError{Field: field, Reason: "failed " + fe.Tag()}
	}
}

// LanguageCodes returns the supported language codes in catalog order.
func LanguageCodes() []string {
	out := make([]string, 0, len(DigestLanguages))
	for _, l := range DigestLanguages {
		out = append(out, l.Code)
	}
	return out
}

// NormalizeLanguage parses code as a BCP 47 tag and returns its base language
// when that base is supported ("EN" and "en-US" both yield "en").
func NormalizeLanguage(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	b := base.String()
	for _, l := range DigestLanguages {
		if l.Code == b {
			return b, true
		}
	}
	return "", false
}
