package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/migrations"
	"github.com/garyjia/approval-engine/pkg/database"
)

type testDB struct {
	db        *database.DB
	tx        *sqlite.DB
	workflows *WorkflowRepository
	actions   *ActionRepository
	risks     *RiskAssessmentRepository
	holds     *HoldRepository
	security  *SecurityEventRepository
	outbox    *OutboxRepository
}

func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: database.MemoryPath, MaxOpenConns: 1, MaxIdleConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(migrations.FS))

	return &testDB{
		db:        db,
		tx:        sqlite.NewDB(db.DB, logger),
		workflows: NewWorkflowRepository(db.DB, logger).(*WorkflowRepository),
		actions:   NewActionRepository(db.DB, logger).(*ActionRepository),
		risks:     NewRiskAssessmentRepository(db.DB, logger).(*RiskAssessmentRepository),
		holds:     NewHoldRepository(db.DB, logger).(*HoldRepository),
		security:  NewSecurityEventRepository(db.DB, logger).(*SecurityEventRepository),
		outbox:    NewOutboxRepository(db.DB, logger).(*OutboxRepository),
	}
}

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func seedWorkflow(t *testing.T, d *testDB, id, txID string) *entity.ApprovalWorkflow {
	t.Helper()
	ctx := context.Background()

	ra := &entity.RiskAssessment{
		ID:            "risk-" + id,
		TransactionID: txID,
		Score:         0.4,
		Factors:       []entity.RiskFactor{{Name: "velocity", Weight: 0.4}},
		Source:        "static",
		AssessedAt:    baseTime,
	}
	require.NoError(t, d.risks.Create(ctx, ra))

	plan := workflow.LevelPlan{
		RuleID: "rule-1",
		Levels: []workflow.Level{
			{Number: 1, Roles: []string{"manager"}, Mode: workflow.ModeOR},
			{Number: 2, Roles: []string{"director"}, Mode: workflow.ModeOR},
		},
	}
	wf := &entity.ApprovalWorkflow{
		ID:               id,
		TransactionID:    txID,
		TransactionType:  "expense",
		Amount:           5000,
		Currency:         "USD",
		RuleID:           plan.RuleID,
		RiskAssessmentID: ra.ID,
		RiskScore:        ra.Score,
		State:            workflow.NewState("emp-1", plan),
		Version:          1,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
	require.NoError(t, d.workflows.Create(ctx, wf))
	return wf
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	wf := seedWorkflow(t, d, "wf-1", "tx-1")

	got, err := d.workflows.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wf.State, got.State)
	assert.Equal(t, "risk-wf-1", got.RiskAssessmentID)
	assert.True(t, baseTime.Equal(got.CreatedAt))
	assert.Nil(t, got.CompletedAt)

	byTx, err := d.workflows.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", byTx.ID)

	missing, err := d.workflows.GetByID(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_UniqueTransaction(t *testing.T) {
	d := setupTestDB(t)
	wf := seedWorkflow(t, d, "wf-1", "tx-1")

	dup := *wf
	dup.ID = "wf-2"
	assert.Error(t, d.workflows.Create(context.Background(), &dup))
}

func TestWorkflowRepository_UpdateChecksVersion(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	wf := seedWorkflow(t, d, "wf-1", "tx-1")

	next := *wf
	next.State = wf.State.Clone()
	next.State.CurrentLevel = 2
	next.Version = 2
	next.AuditHead = "abc"
	next.UpdatedAt = baseTime.Add(time.Minute)

	require.NoError(t, d.workflows.Update(ctx, &next, 1))

	// A writer still holding version 1 loses
	stale := next
	stale.Version = 2
	err := d.workflows.Update(ctx, &stale, 1)
	assert.True(t, errors.Is(err, apperr.ErrVersionConflict))

	got, err := d.workflows.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.CurrentLevel())
	assert.Equal(t, "abc", got.AuditHead)
}

func TestWorkflowRepository_StaleUpdateKeepsIntegrityHold(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	seedWorkflow(t, d, "wf-1", "tx-1")

	stale, err := d.workflows.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	require.False(t, stale.IntegrityHold)

	require.NoError(t, d.workflows.SetIntegrityHold(ctx, "wf-1", true))

	// A writer that read the row before the hold loses its version check
	next := *stale
	next.Version = stale.Version + 1
	err = d.workflows.Update(ctx, &next, stale.Version)
	assert.True(t, errors.Is(err, apperr.ErrVersionConflict))

	// A current writer cannot clear the hold through Update either
	fresh, err := d.workflows.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, fresh.IntegrityHold)
	assert.Equal(t, stale.Version+1, fresh.Version)

	cleared := *fresh
	cleared.IntegrityHold = false
	cleared.Version = fresh.Version + 1
	require.NoError(t, d.workflows.Update(ctx, &cleared, fresh.Version))

	got, err := d.workflows.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, got.IntegrityHold)
}

func TestWorkflowRepository_ListByStatusAndHold(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	seedWorkflow(t, d, "wf-1", "tx-1")
	seedWorkflow(t, d, "wf-2", "tx-2")

	require.NoError(t, d.workflows.SetIntegrityHold(ctx, "wf-2", true))

	pending, err := d.workflows.ListByStatus(ctx, workflow.StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.False(t, pending[0].IntegrityHold)
	assert.True(t, pending[1].IntegrityHold)

	page, err := d.workflows.ListByStatus(ctx, workflow.StatusPending, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "wf-2", page[0].ID)

	approved, err := d.workflows.ListByStatus(ctx, workflow.StatusApproved, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func TestActionRepository_AppendOnly(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	seedWorkflow(t, d, "wf-1", "tx-1")

	for i, actor := range []string{"alice", "dana"} {
		rec := &entity.ActionRecord{
			ID:          "act-" + actor,
			WorkflowID:  "wf-1",
			Sequence:    int64(i + 1),
			Level:       i + 1,
			ActorID:     actor,
			ActorRoles:  []string{"manager"},
			Kind:        workflow.ActionApprove,
			Origin:      entity.ActionOrigin{NetworkAddress: "10.0.0.1"},
			Priority:    entity.PriorityNormal,
			Outcome:     workflow.OutcomeAdvanced,
			Fingerprint: "fp" + actor,
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, d.actions.Append(ctx, rec))
	}

	records, err := d.actions.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"manager"}, records[0].ActorRoles)
	assert.Equal(t, "10.0.0.1", records[0].Origin.NetworkAddress)
	assert.Equal(t, workflow.ActionApprove, records[0].Kind)

	last, err := d.actions.Last(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "act-dana", last.ID)

	got, err := d.actions.GetByID(ctx, "act-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Sequence)

	// Same sequence twice violates the chain
	dup := *records[1]
	dup.ID = "act-other"
	assert.Error(t, d.actions.Append(ctx, &dup))

	_, err = d.db.ExecContext(ctx, `UPDATE approval_actions SET actor_id = 'mallory' WHERE id = 'act-alice'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = d.db.ExecContext(ctx, `DELETE FROM approval_actions WHERE id = 'act-alice'`)
	assert.ErrorContains(t, err, "append-only")
}

func TestRiskAndHoldRepositories(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	seedWorkflow(t, d, "wf-1", "tx-1")

	ra, err := d.risks.GetLatestByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, ra)
	assert.InDelta(t, 0.4, ra.Score, 1e-9)
	assert.Equal(t, "velocity", ra.Factors[0].Name)

	none, err := d.holds.GetByTransactionID(ctx, "tx-9")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, d.holds.Create(ctx, &entity.TransactionHold{
		ID: "h-1", TransactionID: "tx-9", Reason: entity.HoldUpstreamUnavailable, CreatedAt: baseTime,
	}))
	require.NoError(t, d.holds.Create(ctx, &entity.TransactionHold{
		ID: "h-2", TransactionID: "tx-9", Reason: entity.HoldFraudBlock, CreatedAt: baseTime.Add(time.Minute),
	}))

	h, err := d.holds.GetByTransactionID(ctx, "tx-9")
	require.NoError(t, err)
	assert.Equal(t, entity.HoldFraudBlock, h.Reason)
}

func TestSecurityEventRepository(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.security.Create(ctx, &entity.SecurityEvent{
		ID:         "sec-1",
		WorkflowID: "wf-1",
		ActorID:    "mallory",
		Kind:       workflow.ActionApprove,
		Level:      1,
		ErrorKind:  string(apperr.KindAuthorization),
		Detail:     "not qualified",
		CreatedAt:  baseTime,
	}))

	events, err := d.security.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "mallory", events[0].ActorID)

	_, err = d.db.ExecContext(ctx, `DELETE FROM security_events`)
	assert.ErrorContains(t, err, "append-only")
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2"} {
		require.NoError(t, d.outbox.Enqueue(ctx, &entity.OutboxEntry{
			EventID:   id,
			EventType: "workflow.created",
			Payload:   []byte(`{"id":"` + id + `"}`),
			CreatedAt: baseTime,
		}))
	}

	pending, err := d.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, `{"id":"evt-1"}`, string(pending[0].Payload))

	require.NoError(t, d.outbox.MarkDispatched(ctx, pending[0].ID, baseTime))
	require.NoError(t, d.outbox.MarkFailed(ctx, pending[1].ID, "nats: no servers", 3, baseTime))

	pending, err = d.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-2", pending[0].EventID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "nats: no servers", pending[0].LastError)
}

func TestOutboxRepository_DeadLettersAfterMaxAttempts(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		require.NoError(t, d.outbox.Enqueue(ctx, &entity.OutboxEntry{
			EventID: id, EventType: "workflow.created", Payload: []byte(`{}`), CreatedAt: baseTime,
		}))
	}

	pending, err := d.outbox.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	for attempt := 0; attempt < 2; attempt++ {
		for _, e := range pending {
			require.NoError(t, d.outbox.MarkFailed(ctx, e.ID, "bad payload", 2, baseTime))
		}
	}

	// The parked head no longer hides newer entries
	next, err := d.outbox.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "evt-3", next[0].EventID)

	parked, err := d.outbox.ListDeadLettered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 2)
	assert.Equal(t, 2, parked[0].Attempts)
	assert.Equal(t, "bad payload", parked[0].LastError)
	require.NotNil(t, parked[0].FailedAt)

	// Zero disables parking
	for i := 0; i < 5; i++ {
		require.NoError(t, d.outbox.MarkFailed(ctx, next[0].ID, "still failing", 0, baseTime))
	}
	next, err = d.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, 5, next[0].Attempts)
}

func TestTransactionRollback(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := d.outbox.Enqueue(txCtx, &entity.OutboxEntry{
			EventID: "evt-1", EventType: "workflow.created", Payload: []byte(`{}`), CreatedAt: baseTime,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	pending, err := d.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
