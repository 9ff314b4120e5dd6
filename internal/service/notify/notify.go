package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/repository"
)

type Dispatcher interface {
	Send(ctx context.Context, n models.Notification) error
}

// Inbox stores notifications shown in app
type Inbox struct {
	notifications repository.NotificationRepo
}

func NewInbox(notifications repository.NotificationRepo) *Inbox {
	return &Inbox{notifications: notifications}
}

func (i *Inbox) Send(ctx context.Context, n models.Notification) error {
	_, err := i.notifications.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Fanout sends notification to every dispatcher even if some of them fail
type Fanout struct {
	dispatchers []Dispatcher
	logger      logger.Logger
}

func NewFanout(l logger.Logger, dispatchers ...Dispatcher) *Fanout {
	return &Fanout{
		dispatchers: dispatchers,
		logger:      l,
	}
}

func (f *Fanout) Send(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, d := range f.dispatchers {
		err := d.Send(ctx, n)
		if err != nil {
			f.logger.Warn("Notification dispatch failed", "user_id", n.UserID, "type", n.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
