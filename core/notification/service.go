package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trezcool/mnada/core"
)

var ErrNotFound = errors.New("notification not found")

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		QueryNotificationsByUser(ctx context.Context, userID string) ([]Notification, error)
		GetNotificationByID(ctx context.Context, id string) (Notification, error)
		MarkNotificationRead(ctx context.Context, id string) error
	}

	// Broker publishes notifications to an external message queue for
	// out-of-process consumers (mailers, push services).
	Broker interface {
		Publish(ctx context.Context, n Notification) error
	}

	Service struct {
		repo   Repository
		broker Broker
		logger core.Logger
	}
)

func NewService(repo Repository, broker Broker, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		broker: broker,
		logger: logger,
	}
}

// Notify persists a notification and publishes it to the broker.
// Broker failures degrade to a logged warning; the stored notification is
// the source of truth.
func (svc *Service) Notify(ctx context.Context, nn NewNotification) (Notification, error) {
	payload, err := json.Marshal(nn.Payload)
	if err != nil {
		return Notification{}, err
	}

	n, err := svc.repo.CreateNotification(ctx, Notification{
		UserID:  nn.UserID,
		Kind:    nn.Kind,
		Payload: payload,
	})
	if err != nil {
		return Notification{}, err
	}

	if svc.broker != nil {
		if err = svc.broker.Publish(ctx, n); err != nil {
			svc.logger.Warn(fmt.Sprintf("publishing notification %s: %v", n.ID, err), err)
		}
	}
	return n, nil
}

func (svc *Service) QueryByUser(ctx context.Context, userID string) ([]Notification, error) {
	return svc.repo.QueryNotificationsByUser(ctx, userID)
}

// MarkRead flags a notification as read; only its owner may do so.
func (svc *Service) MarkRead(ctx context.Context, id, userID string) error {
	n, err := svc.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return ErrNotFound
	}
	return svc.repo.MarkNotificationRead(ctx, id)
}
