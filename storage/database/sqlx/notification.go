package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mnada/core/notification"
)

type notificationRow struct {
	ID        string          `db:"id"`
	UserID    string          `db:"user_id"`
	Kind      string          `db:"kind"`
	Payload   json.RawMessage `db:"payload"`
	Read      bool            `db:"read"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r notificationRow) toNotification() notification.Notification {
	return notification.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Kind:      notification.Kind(r.Kind),
		Payload:   r.Payload,
		Read:      r.Read,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const notificationColumns = `id, user_id, kind, payload, read, created_at`

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, notif notification.Notification) (notification.Notification, error) {
	notif.ID = uuid.New().String()
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}

	payload := notif.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	q := `
	INSERT INTO notification (id, user_id, kind, payload, read, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := repo.db.ExecContext(ctx, q,
		notif.ID, notif.UserID, string(notif.Kind), []byte(payload), notif.Read, notif.CreatedAt)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return notif, nil
}

func (repo notificationRepository) GetNotificationByID(ctx context.Context, id string) (notification.Notification, error) {
	var row notificationRow
	q := fmt.Sprintf(`SELECT %s FROM notification WHERE id = $1`, notificationColumns)
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return notification.Notification{}, notification.ErrNotFound
		}
		return notification.Notification{}, errors.Wrap(err, "getting notification by ID")
	}
	return row.toNotification(), nil
}

func (repo notificationRepository) QueryNotificationsByUser(ctx context.Context, userID string) ([]notification.Notification, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM notification WHERE user_id = $1 ORDER BY created_at DESC`, notificationColumns)

	var rows []notificationRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}

	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, row.toNotification())
	}
	return notifs, nil
}

func (repo notificationRepository) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE notification SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}
