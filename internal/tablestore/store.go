// Package tablestore provides the partitioned history tables notifications are kept in.
package tablestore

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
)

var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrTransactionFailed = errors.New("table transaction failed")
	ErrInvalidToken      = errors.New("invalid continuation token")
	ErrInvalidTable      = errors.New("invalid table name")
)

// Entity is one stored row. PartitionKey and RowKey together are unique within a table.
type Entity struct {
	PartitionKey string
	RowKey       string

	TrackingID       *string
	EmailAccountUsed *string
	Status           string
	Priority         string
	Sensitivity      string
	TryCount         int
	ErrorMessage     *string
	SendOnUtcDate    time.Time
	CreatedDateTime  time.Time

	Body         *string
	BodyBlobName string
	// Payload holds the remaining content fields as a JSON document.
	Payload string

	ETag      string
	Timestamp time.Time
}

// Value implements predicate.Row.
func (e Entity) Value(field string) (any, bool) {
	switch field {
	case predicate.FieldPartitionKey:
		return e.PartitionKey, true
	case predicate.FieldRowKey:
		return e.RowKey, true
	case predicate.FieldTrackingID:
		return e.TrackingID, true
	case predicate.FieldEmailAccountUsed:
		return e.EmailAccountUsed, true
	case predicate.FieldStatus:
		return e.Status, true
	case predicate.FieldSendOnUtcDate:
		return e.SendOnUtcDate, true
	case predicate.FieldCreatedDateTime:
		return e.CreatedDateTime, true
	case predicate.FieldLastModified:
		return e.Timestamp, true
	case predicate.FieldTryCount:
		return e.TryCount, true
	}
	return nil, false
}

type ActionKind int

const (
	// ActionInsert fails the transaction when the key already exists.
	ActionInsert ActionKind = iota
	// ActionUpsertReplace writes the entity whether or not the key exists.
	ActionUpsertReplace
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpsertReplace:
		return "upsert_replace"
	}
	return "unknown"
}

type Action struct {
	Kind   ActionKind
	Entity Entity
}

// Page is one slice of a query result. ContinuationToken is empty on the last page.
type Page struct {
	Entities          []Entity
	ContinuationToken string
}

type Table interface {
	Name() string
	// SubmitTransaction applies every action atomically. ETag and Timestamp are set by the store.
	SubmitTransaction(ctx context.Context, actions []Action) error
	Query(ctx context.Context, filter predicate.Predicate, pageSize int, token string) (Page, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string) (*Entity, error)
}

type Store interface {
	GetTable(name string) (Table, error)
}

// QueryAll follows continuation tokens until the scan is exhausted.
func QueryAll(ctx context.Context, table Table, filter predicate.Predicate, pageSize int) ([]Entity, error) {
	var (
		all   []Entity
		token string
	)
	for {
		page, err := table.Query(ctx, filter, pageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entities...)
		if page.ContinuationToken == "" {
			return all, nil
		}
		token = page.ContinuationToken
	}
}

func validTableName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
