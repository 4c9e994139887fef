package tablestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
)

// EntityModel is the persistence model shared by every history table.
type EntityModel struct {
	PartitionKey     string    `gorm:"type:varchar(255);primaryKey"`
	RowKey           string    `gorm:"type:varchar(255);primaryKey"`
	TrackingID       *string   `gorm:"type:varchar(255)"`
	EmailAccountUsed *string   `gorm:"type:varchar(320)"`
	Status           string    `gorm:"type:varchar(20);not null"`
	Priority         string    `gorm:"type:varchar(10);not null"`
	Sensitivity      string    `gorm:"type:varchar(20);not null"`
	TryCount         int       `gorm:"not null"`
	ErrorMessage     *string   `gorm:"type:text"`
	SendOnUtcDate    time.Time `gorm:"type:timestamptz;not null"`
	CreatedDateTime  time.Time `gorm:"type:timestamptz;not null"`
	Body             *string   `gorm:"type:text"`
	BodyBlobName     string    `gorm:"type:varchar(512);not null;default:''"`
	Payload          string    `gorm:"type:text;not null"`
	ETag             string    `gorm:"column:etag;type:varchar(36);not null"`
	LastModified     time.Time `gorm:"column:last_modified;type:timestamptz;not null"`
}

func entityModelFromEntity(e Entity) EntityModel {
	return EntityModel{
		PartitionKey:     e.PartitionKey,
		RowKey:           e.RowKey,
		TrackingID:       e.TrackingID,
		EmailAccountUsed: e.EmailAccountUsed,
		Status:           e.Status,
		Priority:         e.Priority,
		Sensitivity:      e.Sensitivity,
		TryCount:         e.TryCount,
		ErrorMessage:     e.ErrorMessage,
		SendOnUtcDate:    e.SendOnUtcDate,
		CreatedDateTime:  e.CreatedDateTime,
		Body:             e.Body,
		BodyBlobName:     e.BodyBlobName,
		Payload:          e.Payload,
		ETag:             e.ETag,
		LastModified:     e.Timestamp,
	}
}

func entityModelToEntity(m EntityModel) Entity {
	return Entity{
		PartitionKey:     m.PartitionKey,
		RowKey:           m.RowKey,
		TrackingID:       m.TrackingID,
		EmailAccountUsed: m.EmailAccountUsed,
		Status:           m.Status,
		Priority:         m.Priority,
		Sensitivity:      m.Sensitivity,
		TryCount:         m.TryCount,
		ErrorMessage:     m.ErrorMessage,
		SendOnUtcDate:    m.SendOnUtcDate.UTC(),
		CreatedDateTime:  m.CreatedDateTime.UTC(),
		Body:             m.Body,
		BodyBlobName:     m.BodyBlobName,
		Payload:          m.Payload,
		ETag:             m.ETag,
		Timestamp:        m.LastModified.UTC(),
	}
}

var _ Store = (*GormStore)(nil)

// GormStore serves tables from PostgreSQL, pushing predicates down as SQL.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetTable(name string) (Table, error) {
	if !validTableName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return &gormTable{db: s.db, name: name}, nil
}

type gormTable struct {
	db   *gorm.DB
	name string
}

func (t *gormTable) Name() string { return t.name }

func (t *gormTable) SubmitTransaction(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, action := range actions {
			model := entityModelFromEntity(action.Entity)
			model.ETag = uuid.NewString()
			model.LastModified = now

			q := tx.Table(t.name)
			switch action.Kind {
			case ActionInsert:
			case ActionUpsertReplace:
				q = q.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "partition_key"}, {Name: "row_key"}},
					UpdateAll: true,
				})
			default:
				return fmt.Errorf("action %d: unknown kind %d", i, action.Kind)
			}
			if err := q.Create(&model).Error; err != nil {
				return fmt.Errorf("action %d %s %s/%s: %w", i, action.Kind, model.PartitionKey, model.RowKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

func (t *gormTable) Query(ctx context.Context, filter predicate.Predicate, pageSize int, token string) (Page, error) {
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	where, args, err := predicate.ToSQL(filter)
	if err != nil {
		return Page{}, err
	}

	q := t.db.WithContext(ctx).Table(t.name).Where(where, args...)
	if token != "" {
		key, err := decodeToken(token)
		if err != nil {
			return Page{}, err
		}
		q = q.Where("(partition_key, row_key) > (?, ?)", key.PartitionKey, key.RowKey)
	}

	var models []EntityModel
	if err := q.Order("partition_key").Order("row_key").Limit(pageSize + 1).Find(&models).Error; err != nil {
		return Page{}, err
	}

	page := Page{Entities: make([]Entity, 0, min(len(models), pageSize))}
	for i, m := range models {
		if i == pageSize {
			break
		}
		page.Entities = append(page.Entities, entityModelToEntity(m))
	}
	if len(models) > pageSize {
		next, err := encodeToken(page.Entities[pageSize-1])
		if err != nil {
			return Page{}, err
		}
		page.ContinuationToken = next
	}
	return page, nil
}

func (t *gormTable) GetEntity(ctx context.Context, partitionKey, rowKey string) (*Entity, error) {
	var m EntityModel
	err := t.db.WithContext(ctx).Table(t.name).
		Where("partition_key = ? AND row_key = ?", partitionKey, rowKey).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	e := entityModelToEntity(m)
	return &e, nil
}
