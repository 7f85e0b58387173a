package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/school"
)

type schoolRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Slug         string    `db:"slug"`
	City         string    `db:"city"`
	ContactEmail string    `db:"contact_email"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r schoolRow) toSchool() school.School {
	sch := school.School{
		ID:           r.ID,
		Name:         r.Name,
		Slug:         r.Slug,
		City:         r.City,
		ContactEmail: r.ContactEmail,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	sch.SetActive(r.IsActive)
	return sch
}

const schoolColumns = `id, name, slug, city, contact_email, is_active, created_at, updated_at`

type schoolRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sqlx.DB) *schoolRepository {
	return &schoolRepository{db: db}
}

func trapSchoolNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return school.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo schoolRepository) CheckSlugUniqueness(ctx context.Context, slug string, excludedSchools ...school.School) error {
	exclIDs := make([]string, 0, len(excludedSchools))
	for _, s := range excludedSchools {
		exclIDs = append(exclIDs, s.ID)
	}

	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM "school" WHERE slug = $1 AND id != ALL($2))`
	if err := repo.db.GetContext(ctx, &exists, q, slug, pq.Array(exclIDs)); err != nil {
		return errors.Wrap(err, "checking school slug uniqueness")
	}
	if exists {
		return school.ErrSlugExists
	}
	return nil
}

func (repo schoolRepository) CreateSchool(ctx context.Context, sch school.School) (school.School, error) {
	sch.ID = uuid.New().String()

	q := `
	INSERT INTO "school" (id, name, slug, city, contact_email, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := repo.db.ExecContext(ctx, q,
		sch.ID, sch.Name, sch.Slug, sch.City, sch.ContactEmail, sch.Active(), sch.CreatedAt, sch.UpdatedAt)
	if err != nil {
		return school.School{}, errors.Wrap(err, "inserting school")
	}
	return sch, nil
}

func (repo schoolRepository) GetSchoolByID(ctx context.Context, id string) (school.School, error) {
	var row schoolRow
	q := fmt.Sprintf(`SELECT %s FROM "school" WHERE id = $1`, schoolColumns)
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return school.School{}, trapSchoolNoRowsErr(err, "getting school by ID")
	}
	return row.toSchool(), nil
}

func (repo schoolRepository) GetSchoolBySlug(ctx context.Context, slug string) (school.School, error) {
	var row schoolRow
	q := fmt.Sprintf(`SELECT %s FROM "school" WHERE slug = $1`, schoolColumns)
	if err := repo.db.GetContext(ctx, &row, q, slug); err != nil {
		return school.School{}, trapSchoolNoRowsErr(err, "getting school by slug")
	}
	return row.toSchool(), nil
}

func (repo schoolRepository) QuerySchools(ctx context.Context, filter *school.QueryFilter, ordering ...core.DBOrdering) ([]school.School, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			conds = append(conds, fmt.Sprintf("(name ILIKE %[1]s OR slug ILIKE %[1]s OR city ILIKE %[1]s)", p))
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = "+arg(*filter.IsActive))
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM "school"`, schoolColumns)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, "name ASC")

	var rows []schoolRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying schools")
	}

	schools := make([]school.School, 0, len(rows))
	for _, row := range rows {
		schools = append(schools, row.toSchool())
	}
	return schools, nil
}

func (repo schoolRepository) UpdateSchool(ctx context.Context, sch school.School, isActive *bool) (school.School, error) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{sch.UpdatedAt}
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if sch.Name != "" {
		set("name", sch.Name)
	}
	if sch.Slug != "" {
		set("slug", sch.Slug)
	}
	set("city", sch.City)
	set("contact_email", sch.ContactEmail)
	if isActive != nil {
		set("is_active", *isActive)
	}

	args = append(args, sch.ID)
	q := fmt.Sprintf(
		`UPDATE "school" SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), schoolColumns)

	var row schoolRow
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return school.School{}, trapSchoolNoRowsErr(err, "updating school")
	}
	return row.toSchool(), nil
}

func (repo schoolRepository) DeleteSchoolsByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM "school" WHERE id = ANY($1)`, pq.Array(ids))
	return errors.Wrap(err, "deleting schools")
}
