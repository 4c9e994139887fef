package tablestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
)

func seedEntity(pk, rk, status string) Entity {
	return Entity{PartitionKey: pk, RowKey: rk, Status: status, Priority: "Normal", Sensitivity: "Normal", Payload: "{}"}
}

func TestMemoryStoreInsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	table, err := store.GetTable("EmailHistory")
	if err != nil {
		t.Fatalf("GetTable() error = %v", err)
	}

	ctx := context.Background()
	if err := table.SubmitTransaction(ctx, []Action{{Kind: ActionInsert, Entity: seedEntity("Contoso", "n1", "Queued")}}); err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}

	got, err := table.GetEntity(ctx, "Contoso", "n1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.ETag == "" || got.Timestamp.IsZero() {
		t.Fatalf("GetEntity() = %+v, want store-assigned etag and timestamp", got)
	}

	if _, err := table.GetEntity(ctx, "Contoso", "missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("GetEntity(missing) error = %v, want ErrEntityNotFound", err)
	}

	same, err := store.GetTable("EmailHistory")
	if err != nil {
		t.Fatalf("GetTable() error = %v", err)
	}
	if _, err := same.GetEntity(ctx, "Contoso", "n1"); err != nil {
		t.Fatalf("second handle GetEntity() error = %v", err)
	}
}

func TestMemoryStoreRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	if _, err := NewMemoryStore().GetTable("Email History;"); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("GetTable() error = %v, want ErrInvalidTable", err)
	}
}

func TestMemoryStoreTransactionIsAtomic(t *testing.T) {
	t.Parallel()

	table, _ := NewMemoryStore().GetTable("EmailHistory")
	ctx := context.Background()

	if err := table.SubmitTransaction(ctx, []Action{{Kind: ActionInsert, Entity: seedEntity("Contoso", "n1", "Queued")}}); err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}

	err := table.SubmitTransaction(ctx, []Action{
		{Kind: ActionInsert, Entity: seedEntity("Contoso", "n2", "Queued")},
		{Kind: ActionInsert, Entity: seedEntity("Contoso", "n1", "Queued")},
	})
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("SubmitTransaction() error = %v, want ErrTransactionFailed", err)
	}
	if _, err := table.GetEntity(ctx, "Contoso", "n2"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("n2 should not be written by a failed transaction, got err = %v", err)
	}
}

func TestMemoryStoreUpsertReplacesAndRegeneratesETag(t *testing.T) {
	t.Parallel()

	table, _ := NewMemoryStore().GetTable("EmailHistory")
	ctx := context.Background()

	if err := table.SubmitTransaction(ctx, []Action{{Kind: ActionInsert, Entity: seedEntity("Contoso", "n1", "Queued")}}); err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}
	before, _ := table.GetEntity(ctx, "Contoso", "n1")

	if err := table.SubmitTransaction(ctx, []Action{{Kind: ActionUpsertReplace, Entity: seedEntity("Contoso", "n1", "Sent")}}); err != nil {
		t.Fatalf("SubmitTransaction(upsert) error = %v", err)
	}
	after, _ := table.GetEntity(ctx, "Contoso", "n1")

	if after.Status != "Sent" {
		t.Fatalf("Status = %q, want Sent", after.Status)
	}
	if after.ETag == before.ETag {
		t.Fatal("ETag should change on every write")
	}
}

func TestMemoryStoreQueryPagination(t *testing.T) {
	t.Parallel()

	table, _ := NewMemoryStore().GetTable("EmailHistory")
	ctx := context.Background()

	actions := make([]Action, 0, 25)
	for i := 0; i < 25; i++ {
		status := "Queued"
		if i%5 == 0 {
			status = "Sent"
		}
		actions = append(actions, Action{Kind: ActionInsert, Entity: seedEntity("Contoso", fmt.Sprintf("n%02d", i), status)})
	}
	if err := table.SubmitTransaction(ctx, actions); err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}

	first, err := table.Query(ctx, predicate.Always{}, 10, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(first.Entities) != 10 || first.ContinuationToken == "" {
		t.Fatalf("first page = %d rows, token %q; want 10 rows and a token", len(first.Entities), first.ContinuationToken)
	}
	if first.Entities[0].RowKey != "n00" || first.Entities[9].RowKey != "n09" {
		t.Fatalf("first page rows %s..%s, want n00..n09", first.Entities[0].RowKey, first.Entities[9].RowKey)
	}

	second, err := table.Query(ctx, predicate.Always{}, 10, first.ContinuationToken)
	if err != nil {
		t.Fatalf("Query(page 2) error = %v", err)
	}
	if second.Entities[0].RowKey != "n10" || second.ContinuationToken == first.ContinuationToken {
		t.Fatalf("second page starts at %s with token %q", second.Entities[0].RowKey, second.ContinuationToken)
	}

	third, err := table.Query(ctx, predicate.Always{}, 10, second.ContinuationToken)
	if err != nil {
		t.Fatalf("Query(page 3) error = %v", err)
	}
	if len(third.Entities) != 5 || third.ContinuationToken != "" {
		t.Fatalf("third page = %d rows, token %q; want 5 rows and no token", len(third.Entities), third.ContinuationToken)
	}

	sent, err := QueryAll(ctx, table, predicate.Eq(predicate.FieldStatus, "Sent"), 2)
	if err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if len(sent) != 5 {
		t.Fatalf("QueryAll(Sent) = %d rows, want 5", len(sent))
	}
}

func TestMemoryStoreQueryRejectsBadToken(t *testing.T) {
	t.Parallel()

	table, _ := NewMemoryStore().GetTable("EmailHistory")
	_, err := table.Query(context.Background(), predicate.Always{}, 10, "%%%")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Query() error = %v, want ErrInvalidToken", err)
	}
}
