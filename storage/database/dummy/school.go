package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/school"
)

type schoolRepository struct {
	db *schoolTable
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db.school}
}

func (repo *schoolRepository) query() []school.School {
	schools := make([]school.School, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		schools = append(schools, *s)
	}
	return schools
}

func (repo *schoolRepository) CheckSlugUniqueness(_ context.Context, slug string, excludedSchools ...school.School) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedSchools))
	for _, s := range excludedSchools {
		excluded[s.ID] = true
	}

	for _, sch := range repo.query() {
		if sch.Slug == slug && !excluded[sch.ID] {
			return school.ErrSlugExists
		}
	}
	return nil
}

func (repo *schoolRepository) CreateSchool(_ context.Context, sch school.School) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sch.ID = uuid.New().String()
	repo.db.table[sch.ID] = &sch
	return sch, nil
}

func (repo *schoolRepository) GetSchoolByID(_ context.Context, id string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sch, ok := repo.db.table[id]; ok {
		return *sch, nil
	}
	return school.School{}, school.ErrNotFound
}

func (repo *schoolRepository) GetSchoolBySlug(_ context.Context, slug string) (school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sch := range repo.query() {
		if sch.Slug == slug {
			return sch, nil
		}
	}
	return school.School{}, school.ErrNotFound
}

func (repo *schoolRepository) QuerySchools(_ context.Context, filter *school.QueryFilter, _ ...core.DBOrdering) ([]school.School, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	schools := repo.query()
	sort.Slice(schools, func(i, j int) bool { return schools[i].Name < schools[j].Name })
	if filter == nil {
		return schools, nil
	}

	if filter.Search != "" {
		var filtered []school.School
		search := strings.ToLower(filter.Search)
		for _, s := range schools {
			if strings.Contains(strings.ToLower(s.Name), search) ||
				strings.Contains(strings.ToLower(s.Slug), search) ||
				strings.Contains(strings.ToLower(s.City), search) {
				filtered = append(filtered, s)
			}
		}
		schools = filtered
	}
	if schools != nil && filter.IsActive != nil {
		var filtered []school.School
		for _, s := range schools {
			if s.Active() == *filter.IsActive {
				filtered = append(filtered, s)
			}
		}
		schools = filtered
	}

	return schools, nil
}

func (repo *schoolRepository) UpdateSchool(_ context.Context, sch school.School, isActive *bool) (school.School, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origSch, ok := repo.db.table[sch.ID]
	if !ok {
		return school.School{}, school.ErrNotFound
	}
	if sch.Name != "" {
		origSch.Name = sch.Name
	}
	if sch.Slug != "" {
		origSch.Slug = sch.Slug
	}
	origSch.City = sch.City
	origSch.ContactEmail = sch.ContactEmail
	if isActive != nil {
		origSch.SetActive(*isActive)
	}
	origSch.UpdatedAt = sch.UpdatedAt

	return *origSch, nil
}

func (repo *schoolRepository) DeleteSchoolsByID(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}
