package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
)

const defaultHistoryPageSize = 100

// HistoryEngine answers report requests one page at a time.
type HistoryEngine struct {
	notifications repository.NotificationRepository
	opts          predicate.ComposeOptions
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewHistoryEngine(
	notifications repository.NotificationRepository,
	opts predicate.ComposeOptions,
	logger *zap.Logger,
) (*HistoryEngine, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryEngine{notifications: notifications, opts: opts, logger: logger}, nil
}

func (h *HistoryEngine) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

// QueryHistory returns the page of records matching req that starts at req.Token,
// and the token of the following page ("" when there is none). Bodies are not loaded.
func (h *HistoryEngine) QueryHistory(ctx context.Context, req domain.ReportRequest) ([]domain.NotificationRecord, string, error) {
	if !req.Type.IsValid() {
		return nil, "", fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, req.Type)
	}

	filter := predicate.Compose(predicate.CriteriaFromReport(req), h.opts)
	take := req.Take
	if take <= 0 {
		take = defaultHistoryPageSize
	}

	records, token, err := h.notifications.FindPage(ctx, req.Type, filter, take, req.Token)
	if err != nil {
		h.metrics.IncHistoryQuery(req.Type.String(), "error")
		observability.WithContextLogger(h.logger, ctx).Error("history query failed",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
		return nil, "", err
	}

	h.metrics.IncHistoryQuery(req.Type.String(), "ok")
	return records, token, nil
}
