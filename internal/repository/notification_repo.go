package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

const scanPageSize = 500

type NotificationRepository interface {
	// Insert writes new records; an existing key fails the chunk it is in.
	Insert(ctx context.Context, records []domain.NotificationRecord) error
	// Upsert replaces records whether or not they exist.
	Upsert(ctx context.Context, records []domain.NotificationRecord) error
	// Find scans every page matching filter.
	Find(ctx context.Context, t domain.NotificationType, filter predicate.Predicate) ([]domain.NotificationRecord, error)
	// FindPage returns one page starting at token and the token of the next page.
	FindPage(ctx context.Context, t domain.NotificationType, filter predicate.Predicate, pageSize int, token string) ([]domain.NotificationRecord, string, error)
}

type TableNotificationRepo struct {
	store  tablestore.Store
	writer *BatchWriter
}

func NewTableNotificationRepo(store tablestore.Store, writer *BatchWriter) *TableNotificationRepo {
	if writer == nil {
		writer = NewBatchWriter(DefaultChunkSize, nil)
	}
	return &TableNotificationRepo{store: store, writer: writer}
}

func (r *TableNotificationRepo) Insert(ctx context.Context, records []domain.NotificationRecord) error {
	return r.write(ctx, records, tablestore.ActionInsert)
}

func (r *TableNotificationRepo) Upsert(ctx context.Context, records []domain.NotificationRecord) error {
	return r.write(ctx, records, tablestore.ActionUpsertReplace)
}

func (r *TableNotificationRepo) write(ctx context.Context, records []domain.NotificationRecord, kind tablestore.ActionKind) error {
	grouped := make(map[domain.NotificationType][]tablestore.Entity, 2)
	for i := range records {
		entity, err := entityFromRecord(&records[i])
		if err != nil {
			return err
		}
		grouped[records[i].Type] = append(grouped[records[i].Type], entity)
	}

	for _, t := range []domain.NotificationType{domain.TypeEmail, domain.TypeMeeting} {
		entities := grouped[t]
		if len(entities) == 0 {
			continue
		}
		table, err := r.table(t)
		if err != nil {
			return err
		}
		if err := r.writer.Write(ctx, table, entities, kind); err != nil {
			return err
		}
		delete(grouped, t)
	}
	for t := range grouped {
		return fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, t)
	}
	return nil
}

func (r *TableNotificationRepo) Find(ctx context.Context, t domain.NotificationType, filter predicate.Predicate) ([]domain.NotificationRecord, error) {
	table, err := r.table(t)
	if err != nil {
		return nil, err
	}

	entities, err := tablestore.QueryAll(ctx, table, filter, scanPageSize)
	if err != nil {
		return nil, mapQueryError(err)
	}
	return decodeEntities(entities, t)
}

func (r *TableNotificationRepo) FindPage(
	ctx context.Context,
	t domain.NotificationType,
	filter predicate.Predicate,
	pageSize int,
	token string,
) ([]domain.NotificationRecord, string, error) {
	table, err := r.table(t)
	if err != nil {
		return nil, "", err
	}

	page, err := table.Query(ctx, filter, pageSize, token)
	if err != nil {
		return nil, "", mapQueryError(err)
	}
	records, err := decodeEntities(page.Entities, t)
	if err != nil {
		return nil, "", err
	}
	return records, page.ContinuationToken, nil
}

func (r *TableNotificationRepo) table(t domain.NotificationType) (tablestore.Table, error) {
	name, err := TableName(t)
	if err != nil {
		return nil, err
	}
	return r.store.GetTable(name)
}

func decodeEntities(entities []tablestore.Entity, t domain.NotificationType) ([]domain.NotificationRecord, error) {
	records := make([]domain.NotificationRecord, 0, len(entities))
	for _, e := range entities {
		record, err := recordFromEntity(e, t)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func mapQueryError(err error) error {
	if errors.Is(err, tablestore.ErrInvalidToken) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return err
}
