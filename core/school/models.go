package school

import (
	"regexp"
	"time"

	"github.com/trezcool/mnada/core"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type School struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	City         string    `json:"city"`
	ContactEmail string    `json:"contact_email"`
	IsActive     *bool     `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (s *School) SetActive(active bool) { s.IsActive = &active }

func (s *School) Active() bool { return s.IsActive != nil && *s.IsActive }

// NewSchool contains information needed to register a new School.
type NewSchool struct {
	Name         string `json:"name" validate:"required"`
	Slug         string `json:"slug" validate:"required,slug"`
	City         string `json:"city"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
}

func (ns *NewSchool) Validate(svc *Service) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Slug = core.CleanString(ns.Slug, true /* lower */)
	ns.City = core.CleanString(ns.City)
	ns.ContactEmail = core.CleanString(ns.ContactEmail, true /* lower */)

	if err := svc.validate.Struct(ns); err != nil {
		return err
	}
	return svc.checkSlugUniqueness(ns.Slug)
}

// UpdateSchool defines what information may be provided to modify an existing School.
type UpdateSchool struct {
	Name         string `json:"name"`
	Slug         string `json:"slug" validate:"omitempty,slug"`
	City         string `json:"city"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
	IsActive     *bool  `json:"is_active"`
}

func (us *UpdateSchool) Validate(orig School, svc *Service) error {
	if name := core.CleanString(us.Name); name != "" {
		us.Name = name
	} else {
		us.Name = orig.Name
	}

	if slug := core.CleanString(us.Slug, true /* lower */); slug != "" {
		us.Slug = slug
	} else {
		us.Slug = orig.Slug
	}

	us.City = core.CleanString(us.City)
	us.ContactEmail = core.CleanString(us.ContactEmail, true /* lower */)

	if err := svc.validate.Struct(us); err != nil {
		return err
	}
	return svc.checkSlugUniqueness(us.Slug, orig)
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
