package authz

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecorderFillsIdentityAndTimestamp(t *testing.T) {
	store := newMemoryStore()
	recorder := NewRecorder(store, nil)

	recorder.Record(context.Background(), AuditRecord{
		UserID: 7,
		Action: AuditActionDecision,
		Result: DecisionAllowed,
	})

	records := store.auditRecords()
	require.Len(t, records, 1)
	require.NotEqual(t, uuid.Nil, records[0].ID)
	require.False(t, records[0].At.IsZero())
}

func TestRecorderKeepsProvidedFields(t *testing.T) {
	store := newMemoryStore()
	recorder := NewRecorder(store, nil)

	id := uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	recorder.Record(context.Background(), AuditRecord{ID: id, At: at, Action: AuditActionRoleAssigned})

	records := store.auditRecords()
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].ID)
	require.Equal(t, at, records[0].At)
}

func TestRecorderSwallowsSinkFailures(t *testing.T) {
	store := newMemoryStore()
	store.failAudit = true
	recorder := NewRecorder(store, nil)

	// Must not panic or surface the error.
	recorder.Record(context.Background(), AuditRecord{Action: AuditActionDecision})
	require.Empty(t, store.auditRecords())
}

func TestRecorderSurvivesCancelledRequestContext(t *testing.T) {
	store := newMemoryStore()
	recorder := NewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Record(ctx, AuditRecord{UserID: 7, Action: AuditActionDecision})

	require.Len(t, store.auditRecords(), 1)
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var recorder *Recorder
	recorder.Record(context.Background(), AuditRecord{Action: AuditActionDecision})

	recorder = NewRecorder(nil, nil)
	recorder.Record(context.Background(), AuditRecord{Action: AuditActionDecision})
}
