package school

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/mnada/core"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// fakeRepo is an in-memory Repository whose reads can be made to fail.
type fakeRepo struct {
	mu      sync.Mutex
	schools map[string]School // by slug
	fail    bool
}

var _ Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{schools: make(map[string]School)}
}

var errDBDown = errors.New("database down")

func (r *fakeRepo) CheckSlugUniqueness(_ context.Context, slug string, excluded ...School) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sch, ok := r.schools[slug]
	if !ok {
		return nil
	}
	for _, excl := range excluded {
		if excl.ID == sch.ID {
			return nil
		}
	}
	return ErrSlugExists
}

func (r *fakeRepo) CreateSchool(_ context.Context, sch School) (School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sch.ID = uuid.New().String()
	r.schools[sch.Slug] = sch
	return sch, nil
}

func (r *fakeRepo) GetSchoolByID(_ context.Context, id string) (School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sch := range r.schools {
		if sch.ID == id {
			return sch, nil
		}
	}
	return School{}, ErrNotFound
}

func (r *fakeRepo) GetSchoolBySlug(_ context.Context, slug string) (School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sch, ok := r.schools[slug]; ok {
		return sch, nil
	}
	return School{}, ErrNotFound
}

func (r *fakeRepo) QuerySchools(_ context.Context, filter *QueryFilter, _ ...core.DBOrdering) ([]School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errDBDown
	}
	var schools []School
	for _, sch := range r.schools {
		if filter != nil && filter.IsActive != nil && sch.Active() != *filter.IsActive {
			continue
		}
		schools = append(schools, sch)
	}
	return schools, nil
}

func (r *fakeRepo) UpdateSchool(_ context.Context, sch School, isActive *bool) (School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, orig := range r.schools {
		if orig.ID == sch.ID {
			if isActive != nil {
				orig.SetActive(*isActive)
			}
			r.schools[slug] = orig
			return orig, nil
		}
	}
	return School{}, ErrNotFound
}

func (r *fakeRepo) DeleteSchoolsByID(_ context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		for slug, sch := range r.schools {
			if sch.ID == id {
				delete(r.schools, slug)
			}
		}
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	repo := newFakeRepo()
	return NewService(repo, nopLogger{}, validate), repo
}

func TestService_Active(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)

	t.Run("cold cache with database down serves the fallback", func(t *testing.T) {
		repo.fail = true
		schools := svc.Active(ctx)
		if len(schools) != len(fallbackSchools) {
			t.Fatalf("Active() returned %d schools, want %d", len(schools), len(fallbackSchools))
		}
		if schools[0].Name != "Lycée Kiwele" {
			t.Errorf("Active()[0].Name = %q, want the fallback list", schools[0].Name)
		}
	})

	t.Run("warm cache", func(t *testing.T) {
		repo.fail = false
		sch, err := svc.Create(ctx, NewSchool{Name: "Mlimani Primary", Slug: "mlimani-primary"})
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}

		schools := svc.Active(ctx)
		if len(schools) != 1 || schools[0].ID != sch.ID {
			t.Fatalf("Active() = %+v, want the created school", schools)
		}
	})

	t.Run("stale cache beats the fallback", func(t *testing.T) {
		repo.fail = true
		svc.invalidateCache() // force a repo query; cached entries survive
		schools := svc.Active(ctx)
		if len(schools) != 1 || schools[0].Slug != "mlimani-primary" {
			t.Errorf("Active() = %+v, want the stale cached school", schools)
		}
	})

	t.Run("mutations invalidate the cache", func(t *testing.T) {
		repo.fail = false
		if _, err := svc.Create(ctx, NewSchool{Name: "Uhuru Secondary", Slug: "uhuru-secondary"}); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		if schools := svc.Active(ctx); len(schools) != 2 {
			t.Errorf("Active() returned %d schools, want 2", len(schools))
		}
	})
}

func TestService_ImportCSV(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)

	if _, err := svc.Create(ctx, NewSchool{Name: "Mlimani Primary", Slug: "mlimani-primary"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	t.Run("empty file", func(t *testing.T) {
		if _, err := svc.ImportCSV(ctx, strings.NewReader("")); err == nil {
			t.Error("ImportCSV() succeeded, want error")
		}
	})

	t.Run("invalid header", func(t *testing.T) {
		_, err := svc.ImportCSV(ctx, strings.NewReader("nom,slug,ville,email\nlol,lol,lol,lol\n"))
		if err == nil {
			t.Fatal("ImportCSV() succeeded, want error")
		}
		if _, ok := err.(*core.ValidationError); !ok {
			t.Errorf("ImportCSV() error = %T, want *core.ValidationError", err)
		}
	})

	t.Run("imports rows and reports failures", func(t *testing.T) {
		csvData := "name,slug,city,contact_email\n" + // header
			"Uhuru Secondary,uhuru-secondary,Arusha,admin@uhuru.ac.tz\n" + // row 2: ok
			"Duplicate,mlimani-primary,Dodoma,\n" + // row 3: slug conflict
			"Bad Slug,Not A Slug!,,\n" + // row 4: invalid slug
			"Short Row,short-row\n" + // row 5: missing columns
			"Tumaini Girls,tumaini-girls,Mwanza,head@tumaini.ac.tz\n" // row 6: ok

		res, err := svc.ImportCSV(ctx, strings.NewReader(csvData))
		if err != nil {
			t.Fatalf("ImportCSV() failed: %v", err)
		}
		if res.Created != 2 {
			t.Errorf("Created = %d, want 2", res.Created)
		}
		if len(res.Errors) != 3 {
			t.Fatalf("Errors = %+v, want 3 row errors", res.Errors)
		}
		for i, wantRow := range []int{3, 4, 5} {
			if res.Errors[i].Row != wantRow {
				t.Errorf("Errors[%d].Row = %d, want %d", i, res.Errors[i].Row, wantRow)
			}
		}

		for _, slug := range []string{"uhuru-secondary", "tumaini-girls"} {
			if _, err = repo.GetSchoolBySlug(ctx, slug); err != nil {
				t.Errorf("GetSchoolBySlug(%q) failed: %v", slug, err)
			}
		}
	})
}
