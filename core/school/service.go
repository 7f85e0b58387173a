package school

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mnada/core"
)

var (
	// errors
	ErrNotFound   = errors.New("school not found")
	ErrSlugExists = errors.New("a school with this slug already exists")

	activeCacheTTL = 5 * time.Minute

	// fallbackSchools is served when the database cannot be reached so that
	// public browsing pages keep rendering a school list.
	fallbackSchools = []School{
		{ID: "00000000-0000-0000-0000-000000000001", Name: "Lycée Kiwele", Slug: "lycee-kiwele", City: "Lubumbashi"},
		{ID: "00000000-0000-0000-0000-000000000002", Name: "Institut Maadini", Slug: "institut-maadini", City: "Likasi"},
		{ID: "00000000-0000-0000-0000-000000000003", Name: "Collège Imara", Slug: "college-imara", City: "Lubumbashi"},
	}
)

type (
	Repository interface {
		// CheckSlugUniqueness returns ErrSlugExists on conflict.
		CheckSlugUniqueness(ctx context.Context, slug string, excludedSchools ...School) error
		CreateSchool(ctx context.Context, sch School) (School, error)
		GetSchoolByID(ctx context.Context, id string) (School, error)
		GetSchoolBySlug(ctx context.Context, slug string) (School, error)
		// QuerySchools applies AND operation on available QueryFilter fields.
		QuerySchools(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]School, error)
		UpdateSchool(ctx context.Context, sch School, isActive *bool) (School, error)
		DeleteSchoolsByID(ctx context.Context, ids ...string) error
	}

	Service struct {
		repo     Repository
		logger   core.Logger
		validate *validator.Validate

		cacheMu     sync.RWMutex
		cached      []School
		cacheExpiry time.Time
	}
)

func NewService(repo Repository, logger core.Logger, validate *validator.Validate) *Service {
	return &Service{
		repo:     repo,
		logger:   logger,
		validate: validate,
	}
}

func (svc *Service) checkSlugUniqueness(slug string, exclSchools ...School) error {
	if err := svc.repo.CheckSlugUniqueness(context.Background(), slug, exclSchools...); err != nil {
		if err == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "slug", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) invalidateCache() {
	svc.cacheMu.Lock()
	svc.cacheExpiry = time.Time{}
	svc.cacheMu.Unlock()
}

func (svc *Service) Create(ctx context.Context, ns NewSchool) (School, error) {
	now := time.Now().UTC()
	sch := School{
		Name:         ns.Name,
		Slug:         ns.Slug,
		City:         ns.City,
		ContactEmail: ns.ContactEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sch.SetActive(true)

	sch, err := svc.repo.CreateSchool(ctx, sch)
	if err != nil {
		return School{}, err
	}
	svc.invalidateCache()
	return sch, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]School, error) {
	return svc.repo.QuerySchools(ctx, filter, ordering...)
}

func (svc *Service) GetByID(ctx context.Context, id string) (School, error) {
	return svc.repo.GetSchoolByID(ctx, id)
}

func (svc *Service) GetBySlug(ctx context.Context, slug string) (School, error) {
	return svc.repo.GetSchoolBySlug(ctx, core.CleanString(slug, true /* lower */))
}

func (svc *Service) Update(ctx context.Context, id string, us UpdateSchool) (School, error) {
	sch := School{
		ID:           id,
		Name:         us.Name,
		Slug:         us.Slug,
		City:         us.City,
		ContactEmail: us.ContactEmail,
		UpdatedAt:    time.Now().UTC(),
	}
	sch, err := svc.repo.UpdateSchool(ctx, sch, us.IsActive)
	if err != nil {
		return School{}, err
	}
	svc.invalidateCache()
	return sch, nil
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	if err := svc.repo.DeleteSchoolsByID(ctx, ids...); err != nil {
		return err
	}
	svc.invalidateCache()
	return nil
}

// Active returns the active school list from a TTL cache; when the database
// is unreachable and the cache is cold, a hardcoded fallback list is served.
func (svc *Service) Active(ctx context.Context) []School {
	svc.cacheMu.RLock()
	if time.Now().Before(svc.cacheExpiry) {
		defer svc.cacheMu.RUnlock()
		return svc.cached
	}
	svc.cacheMu.RUnlock()

	active := true
	schools, err := svc.repo.QuerySchools(ctx, &QueryFilter{IsActive: &active})
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("querying active schools, serving fallback: %v", err), err)
		svc.cacheMu.RLock()
		defer svc.cacheMu.RUnlock()
		if svc.cached != nil { // stale beats hardcoded
			return svc.cached
		}
		return fallbackSchools
	}

	svc.cacheMu.Lock()
	svc.cached = schools
	svc.cacheExpiry = time.Now().Add(activeCacheTTL)
	svc.cacheMu.Unlock()
	return schools
}

// CSV import

var csvHeader = []string{"name", "slug", "city", "contact_email"}

type (
	ImportRowError struct {
		Row   int    `json:"row"`
		Error string `json:"error"`
	}

	ImportResult struct {
		Created int              `json:"created"`
		Errors  []ImportRowError `json:"errors,omitempty"`
	}
)

// ImportCSV bulk-creates schools from a CSV stream with the header
// `name,slug,city,contact_email`. Row failures do not abort the import;
// they are reported per-row in the result.
func (svc *Service) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return ImportResult{}, core.NewValidationError(errors.New("empty or unreadable CSV file"))
	}
	if !matchesHeader(header) {
		return ImportResult{}, core.NewValidationError(
			fmt.Errorf("invalid CSV header; expected %q", strings.Join(csvHeader, ",")))
	}

	var res ImportResult
	for row := 2; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, ImportRowError{Row: row, Error: err.Error()})
			continue
		}

		ns := NewSchool{Name: record[0], Slug: record[1]}
		if len(record) > 2 {
			ns.City = record[2]
		}
		if len(record) > 3 {
			ns.ContactEmail = record[3]
		}
		if err = ns.Validate(svc); err != nil {
			res.Errors = append(res.Errors, ImportRowError{Row: row, Error: importErrText(err)})
			continue
		}
		if _, err = svc.Create(ctx, ns); err != nil {
			return res, pkgerrors.Wrapf(err, "importing school at row %d", row)
		}
		res.Created++
	}
	return res, nil
}

func matchesHeader(header []string) bool {
	if len(header) != len(csvHeader) {
		return false
	}
	for i, h := range header {
		if core.CleanString(h, true /* lower */) != csvHeader[i] {
			return false
		}
	}
	return true
}

func importErrText(err error) string {
	switch e := err.(type) {
	case *core.ValidationError:
		if len(e.Fields) > 0 {
			parts := make([]string, 0, len(e.Fields))
			for _, f := range e.Fields {
				parts = append(parts, f.Field+": "+f.Error)
			}
			return strings.Join(parts, "; ")
		}
		return e.Error()
	case validator.ValidationErrors:
		parts := make([]string, 0, len(e))
		for _, f := range e {
			parts = append(parts, f.Field()+": invalid value")
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
