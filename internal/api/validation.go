package api

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/cadence"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

const maxNameLength = 200

// toSchedule validates the schedule and returns it with defaults applied.
func (s ScheduleRequest) toSchedule() (domain.Schedule, cadence.Spec, error) {
	spec, err := cadence.New(domain.Schedule{
		Cadence:      domain.Cadence(strings.ToUpper(s.Cadence)),
		DayOfWeek:    time.Weekday(s.DayOfWeek),
		Hour:         s.Hour,
		Minute:       s.Minute,
		Timezone:     s.Timezone,
		CatchUp:      domain.CatchUpMode(s.CatchUpMode),
		DSTInvalid:   domain.DSTInvalidPolicy(s.DSTInvalidPolicy),
		DSTAmbiguous: domain.DSTAmbiguousPolicy(s.DSTAmbiguousPolicy),
	})
	if err != nil {
		return domain.Schedule{}, cadence.Spec{}, prefixField("schedule", err)
	}
	return spec.Schedule(), spec, nil
}

func (r RetryRequest) toPolicy() (domain.RetryPolicy, error) {
	p := domain.RetryPolicy{
		MaxAttempts:       r.MaxAttempts,
		BackoffSeconds:    r.BackoffSeconds,
		MaxBackoffSeconds: r.MaxBackoffSeconds,
	}
	if err := p.Validate(); err != nil {
		return domain.RetryPolicy{}, err
	}
	return p, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Invalid("name", "required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return domain.Invalid("name", "must be at most %d characters", maxNameLength)
	}
	return nil
}

// prefixField nests a validation error's field under prefix.
func prefixField(prefix string, err error) error {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return &domain.ValidationError{Field: prefix + "." + ve.Field, Message: ve.Message}
}
