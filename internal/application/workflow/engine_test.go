package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/audit"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/rules"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// In-memory collaborators

type memStore struct {
	mu        sync.Mutex
	workflows map[string]*entity.ApprovalWorkflow
	actions   []*entity.ActionRecord
	risks     []*entity.RiskAssessment
	holds     []*entity.TransactionHold
	security  []*entity.SecurityEvent
	outbox    []*entity.OutboxEntry
}

func newMemStore() *memStore {
	return &memStore{workflows: make(map[string]*entity.ApprovalWorkflow)}
}

func copyWorkflow(wf *entity.ApprovalWorkflow) *entity.ApprovalWorkflow {
	cp := *wf
	cp.State = wf.State.Clone()
	return &cp
}

type memWorkflowRepo struct{ s *memStore }

func (r memWorkflowRepo) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (r memWorkflowRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wf, ok := r.s.workflows[id]
	if !ok {
		return nil, nil
	}
	return copyWorkflow(wf), nil
}

func (r memWorkflowRepo) GetByTransactionID(ctx context.Context, transactionID string) (*entity.ApprovalWorkflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, wf := range r.s.workflows {
		if wf.TransactionID == transactionID {
			return copyWorkflow(wf), nil
		}
	}
	return nil, nil
}

func (r memWorkflowRepo) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.workflows[wf.ID]
	if !ok || cur.Version != expectedVersion {
		return apperr.ErrVersionConflict
	}
	next := copyWorkflow(wf)
	next.IntegrityHold = cur.IntegrityHold
	r.s.workflows[wf.ID] = next
	return nil
}

func (r memWorkflowRepo) SetIntegrityHold(ctx context.Context, id string, hold bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if wf, ok := r.s.workflows[id]; ok {
		wf.IntegrityHold = hold
		wf.Version++
	}
	return nil
}

func (r memWorkflowRepo) ListByStatus(ctx context.Context, status domainwf.Status, limit, offset int) ([]*entity.ApprovalWorkflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.ApprovalWorkflow
	for _, wf := range r.s.workflows {
		if wf.Status() == status {
			out = append(out, copyWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// hookedWorkflowRepo runs a one-shot hook after the next GetByID read
type hookedWorkflowRepo struct {
	memWorkflowRepo
	mu    sync.Mutex
	onGet func()
}

func (r *hookedWorkflowRepo) arm(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onGet = fn
}

func (r *hookedWorkflowRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	wf, err := r.memWorkflowRepo.GetByID(ctx, id)
	r.mu.Lock()
	hook := r.onGet
	r.onGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return wf, err
}

type memActionRepo struct{ s *memStore }

func (r memActionRepo) Append(ctx context.Context, rec *entity.ActionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *rec
	r.s.actions = append(r.s.actions, &cp)
	return nil
}

func (r memActionRepo) GetByID(ctx context.Context, id string) (*entity.ActionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.actions {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memActionRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.ActionRecord
	for _, rec := range r.s.actions {
		if rec.WorkflowID == workflowID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memActionRepo) Last(ctx context.Context, workflowID string) (*entity.ActionRecord, error) {
	records, _ := r.ListByWorkflow(ctx, workflowID)
	if len(records) == 0 {
		return nil, nil
	}
	return records[len(records)-1], nil
}

type memRiskRepo struct{ s *memStore }

func (r memRiskRepo) Create(ctx context.Context, ra *entity.RiskAssessment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.risks = append(r.s.risks, ra)
	return nil
}

func (r memRiskRepo) GetLatestByTransactionID(ctx context.Context, transactionID string) (*entity.RiskAssessment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.risks) - 1; i >= 0; i-- {
		if r.s.risks[i].TransactionID == transactionID {
			return r.s.risks[i], nil
		}
	}
	return nil, nil
}

type memHoldRepo struct{ s *memStore }

func (r memHoldRepo) Create(ctx context.Context, h *entity.TransactionHold) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.holds = append(r.s.holds, h)
	return nil
}

func (r memHoldRepo) GetByTransactionID(ctx context.Context, transactionID string) (*entity.TransactionHold, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.holds) - 1; i >= 0; i-- {
		if r.s.holds[i].TransactionID == transactionID {
			return r.s.holds[i], nil
		}
	}
	return nil, nil
}

type memSecurityRepo struct{ s *memStore }

func (r memSecurityRepo) Create(ctx context.Context, ev *entity.SecurityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.security = append(r.s.security, ev)
	return nil
}

func (r memSecurityRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.SecurityEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.SecurityEvent
	for _, ev := range r.s.security {
		if ev.WorkflowID == workflowID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memOutboxRepo struct{ s *memStore }

func (r memOutboxRepo) Enqueue(ctx context.Context, entry *entity.OutboxEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = int64(len(r.s.outbox) + 1)
	r.s.outbox = append(r.s.outbox, entry)
	return nil
}

func (r memOutboxRepo) FetchPending(ctx context.Context, limit int) ([]*entity.OutboxEntry, error) {
	return nil, nil
}

func (r memOutboxRepo) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	return nil
}

func (r memOutboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, at time.Time) error {
	return nil
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.outbox))
	for i, e := range s.outbox {
		out[i] = e.EventType
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRuleStore struct {
	rules []entity.ApprovalRule
}

func (m *mockRuleStore) FindActiveRules(ctx context.Context, txType, currency string) ([]entity.ApprovalRule, error) {
	var out []entity.ApprovalRule
	for _, r := range m.rules {
		if r.Active && r.Covers(txType, currency) {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockRisk struct {
	mu     sync.Mutex
	result port.RiskResult
	err    error
	calls  int
}

func (m *mockRisk) Assess(ctx context.Context, tx entity.Transaction) (*port.RiskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	r := m.result
	return &r, nil
}

type mockIdentity struct {
	roles       map[string][]string
	delegations map[string][]string
}

func (m *mockIdentity) HasRole(ctx context.Context, userID, role string) (bool, error) {
	for _, r := range m.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockIdentity) DelegationTargetsFor(ctx context.Context, userID string) ([]string, error) {
	return m.delegations[userID], nil
}

// Fixture

type fixture struct {
	store     *memStore
	risk      *mockRisk
	identity  *mockIdentity
	rules     *mockRuleStore
	workflows *hookedWorkflowRepo
	engine    Orchestrator
}

func twoLevelRule() entity.ApprovalRule {
	return entity.ApprovalRule{
		ID:              "expense-usd-1000",
		TransactionType: "expense",
		Currency:        "USD",
		Threshold:       1000,
		Levels: []entity.RuleLevel{
			{Roles: []string{"manager"}},
			{Roles: []string{"director"}},
		},
		Active:    true,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newFixture(t *testing.T, ruleSet ...entity.ApprovalRule) *fixture {
	t.Helper()

	store := newMemStore()
	risk := &mockRisk{result: port.RiskResult{Score: 0.2, Source: "test"}}
	identity := &mockIdentity{
		roles: map[string][]string{
			"alice": {"manager"},
			"bob":   {"manager"},
			"dana":  {"director"},
			"rita":  {"risk-review"},
			"carol": {"cfo"},
		},
		delegations: map[string][]string{
			"alice": {"bob"},
		},
	}

	workflows := &hookedWorkflowRepo{memWorkflowRepo: memWorkflowRepo{store}}
	actions := memActionRepo{store}
	ruleStore := &mockRuleStore{rules: ruleSet}
	logger := zap.NewNop()

	evaluator := rules.NewEvaluator(ruleStore, rules.Config{
		RiskCutoff:     0.7,
		RiskReviewRole: "risk-review",
		Policy:         domainwf.Policy{OverrideRole: "cfo", EscalationTiers: []string{"director", "cfo"}},
	}, logger)

	engine := NewOrchestrator(Dependencies{
		Workflows:      workflows,
		Actions:        actions,
		Assessments:    memRiskRepo{store},
		Holds:          memHoldRepo{store},
		SecurityEvents: memSecurityRepo{store},
		Outbox:         memOutboxRepo{store},
		TxManager:      passthroughTx{},
		Evaluator:      evaluator,
		Recorder:       audit.NewRecorder(actions, workflows, logger, audit.WithTxManager(passthroughTx{})),
		Risk:           risk,
		Identity:       identity,
	},
		WithLogger(logger),
		WithRiskPolicy(50*time.Millisecond, 2),
		WithPersistRetry(2, time.Millisecond),
	)

	return &fixture{store: store, risk: risk, identity: identity, rules: ruleStore, workflows: workflows, engine: engine}
}

func expense(id string, amount float64) entity.Transaction {
	return entity.Transaction{
		ID:          id,
		Type:        "expense",
		Amount:      amount,
		Currency:    "USD",
		RequesterID: "emp-1",
	}
}

func (f *fixture) create(t *testing.T, tx entity.Transaction) *Snapshot {
	t.Helper()
	res, err := f.engine.CreateWorkflow(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, res.Workflow)
	return res.Workflow
}

func (f *fixture) submit(id, actor string, kind domainwf.ActionKind, justification string) (*Snapshot, error) {
	return f.engine.SubmitAction(context.Background(), ActionRequest{
		WorkflowID:    id,
		ActorID:       actor,
		Kind:          kind,
		Justification: justification,
	})
}

// Tests

func TestCreateWorkflow_TwoLevelPlan(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	res, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.NoError(t, err)

	assert.False(t, res.AutoApproved)
	assert.False(t, res.Blocked)
	assert.Equal(t, StatusPendingApproval, res.Status)
	require.NotNil(t, res.Workflow)
	assert.Equal(t, domainwf.StatusPending, res.Workflow.Status)
	assert.Equal(t, 1, res.Workflow.CurrentLevel)
	assert.Equal(t, 2, res.Workflow.TotalLevels)
	assert.Equal(t, int64(1), res.Workflow.Version)
	assert.Equal(t, []string{"workflow.created"}, f.store.eventTypes())
	assert.Len(t, f.store.risks, 1)
}

func TestCreateWorkflow_IsIdempotentPerTransaction(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	first := f.create(t, expense("tx-1", 5000))
	second := f.create(t, expense("tx-1", 5000))

	assert.Equal(t, first.WorkflowID, second.WorkflowID)
	assert.Equal(t, 1, f.risk.calls)
	assert.Len(t, f.store.workflows, 1)
}

func TestCreateWorkflow_HighRiskAddsReviewLevel(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	f.risk.result.Score = 0.85

	wf := f.create(t, expense("tx-1", 5000))

	assert.Equal(t, 3, wf.TotalLevels)
	assert.True(t, wf.RiskEscalated)
	assert.Equal(t, []string{"risk-review"}, wf.Levels[2].Roles)
	assert.InDelta(t, 0.85, wf.RiskScore, 1e-9)
}

func TestCreateWorkflow_AutoApprovedBelowThreshold(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	res, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 50))
	require.NoError(t, err)

	assert.True(t, res.AutoApproved)
	assert.Equal(t, StatusAutoApproved, res.Status)
	assert.Nil(t, res.Workflow)
	assert.Empty(t, f.store.workflows)
	assert.Len(t, f.store.risks, 1)
}

func TestCreateWorkflow_FraudBlockIsHeld(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	f.risk.result = port.RiskResult{Score: 0.99, FraudBlock: true}

	res, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.NoError(t, err)

	assert.True(t, res.Blocked)
	assert.Equal(t, entity.PublicHoldStatus, res.Status)
	assert.Empty(t, f.store.workflows)
	require.Len(t, f.store.holds, 1)
	assert.Equal(t, entity.HoldFraudBlock, f.store.holds[0].Reason)
	assert.Equal(t, []string{"transaction.held"}, f.store.eventTypes())

	// Resubmission returns the same outcome without scoring again
	again, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.NoError(t, err)
	assert.True(t, again.Blocked)
	assert.Equal(t, 1, f.risk.calls)
}

func TestCreateWorkflow_ResubmissionReportsCurrentStatus(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	_, err := f.submit(wf.WorkflowID, "alice", domainwf.ActionReject, "duplicate claim")
	require.NoError(t, err)

	again, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, again.Status)
	require.NotNil(t, again.Workflow)
	assert.Equal(t, domainwf.StatusRejected, again.Workflow.Status)
}

func TestCreateWorkflow_ReusesAssessmentAfterConfigurationHold(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.True(t, apperr.Is(err, apperr.KindConfiguration))
	require.Len(t, f.store.holds, 1)
	require.Len(t, f.store.risks, 1)

	// The rule gets configured and the transaction is submitted again
	f.rules.rules = []entity.ApprovalRule{twoLevelRule()}
	res, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))
	require.NoError(t, err)
	require.NotNil(t, res.Workflow)

	assert.Equal(t, 1, f.risk.calls)
	assert.Len(t, f.store.risks, 1)
	assert.Equal(t, f.store.holds[0].RiskAssessmentID, res.RiskAssessmentID)
}

func TestCreateWorkflow_RiskUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	f.risk.err = context.DeadlineExceeded

	res, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperr.Is(err, apperr.KindUpstreamTimeout))
	assert.Equal(t, 2, f.risk.calls)
	assert.Empty(t, f.store.workflows)
	require.Len(t, f.store.holds, 1)
	assert.Equal(t, entity.HoldUpstreamUnavailable, f.store.holds[0].Reason)
}

func TestCreateWorkflow_MissingRuleIsHeld(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateWorkflow(context.Background(), expense("tx-1", 5000))

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.Empty(t, f.store.workflows)
	require.Len(t, f.store.holds, 1)
	assert.Equal(t, entity.HoldMissingConfiguration, f.store.holds[0].Reason)
}

func TestCreateWorkflow_InvalidTransaction(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	tx := expense("tx-1", -5)
	_, err := f.engine.CreateWorkflow(context.Background(), tx)

	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 0, f.risk.calls)
}

func TestSubmitAction_ApproveThenRejectSurfacesJustification(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	snap, err := f.submit(wf.WorkflowID, "alice", domainwf.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.OutcomeAdvanced, snap.LastOutcome)
	assert.Equal(t, 2, snap.CurrentLevel)
	assert.Equal(t, int64(2), snap.Version)

	snap, err = f.submit(wf.WorkflowID, "dana", domainwf.ActionReject, "missing receipts")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusRejected, snap.Status)
	require.NotNil(t, snap.Rejection)
	assert.Equal(t, "missing receipts", snap.Rejection.Justification)
	assert.NotNil(t, snap.CompletedAt)

	status, err := f.engine.GetStatus(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, status.Rejection)
	assert.Equal(t, "dana", status.Rejection.ActorID)
	assert.Equal(t, 2, status.Rejection.Level)

	history, err := f.engine.History(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Equal(t, history[0].Fingerprint, history[1].PrevFingerprint)

	assert.Equal(t, []string{"workflow.created", "workflow.advanced", "workflow.completed"}, f.store.eventTypes())

	report, err := f.engine.Verify(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.True(t, report.Consistent)
}

func TestSubmitAction_FullApproval(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	f.risk.result.Score = 0.85
	wf := f.create(t, expense("tx-1", 5000))

	for _, actor := range []string{"alice", "dana", "rita"} {
		_, err := f.submit(wf.WorkflowID, actor, domainwf.ActionApprove, "")
		require.NoError(t, err, actor)
	}

	status, err := f.engine.GetStatus(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusApproved, status.Status)
	assert.Nil(t, status.Rejection)

	approved, err := f.engine.ListWorkflows(context.Background(), domainwf.StatusApproved, 10, 0)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestSubmitAction_TerminalWorkflowConflicts(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	_, err := f.submit(wf.WorkflowID, "alice", domainwf.ActionReject, "duplicate claim")
	require.NoError(t, err)

	_, err = f.submit(wf.WorkflowID, "dana", domainwf.ActionApprove, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.True(t, errors.Is(err, apperr.ErrWorkflowCompleted))
	assert.Len(t, f.store.actions, 1)
	assert.Len(t, f.store.security, 1)
}

func TestSubmitAction_UnqualifiedActorIsRejectedAndRecorded(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	_, err := f.submit(wf.WorkflowID, "dana", domainwf.ActionApprove, "")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.Empty(t, f.store.actions)
	require.Len(t, f.store.security, 1)
	assert.Equal(t, "dana", f.store.security[0].ActorID)
	assert.Equal(t, string(apperr.KindAuthorization), f.store.security[0].ErrorKind)

	status, err := f.engine.GetStatus(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Version)
}

func TestSubmitAction_IdempotentActionID(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	req := ActionRequest{ActionID: "act-1", WorkflowID: wf.WorkflowID, ActorID: "alice", Kind: domainwf.ActionApprove}

	first, err := f.engine.SubmitAction(context.Background(), req)
	require.NoError(t, err)
	second, err := f.engine.SubmitAction(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, domainwf.OutcomeAdvanced, second.LastOutcome)
	assert.Len(t, f.store.actions, 1)

	other := f.create(t, expense("tx-2", 5000))
	req.WorkflowID = other.WorkflowID
	_, err = f.engine.SubmitAction(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSubmitAction_IntegrityHoldBlocksActions(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))
	require.NoError(t, f.workflows.SetIntegrityHold(context.Background(), wf.WorkflowID, true))

	_, err := f.submit(wf.WorkflowID, "alice", domainwf.ActionApprove, "")

	assert.True(t, apperr.Is(err, apperr.KindIntegrity))
	assert.True(t, errors.Is(err, apperr.ErrIntegrityHold))
	assert.Empty(t, f.store.actions)
}

func TestSubmitAction_UnknownWorkflow(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	_, err := f.submit("missing", "alice", domainwf.ActionApprove, "")

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSubmitAction_ValidatesRequest(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	tests := []struct {
		name string
		req  ActionRequest
	}{
		{"missing workflow", ActionRequest{ActorID: "alice", Kind: domainwf.ActionApprove}},
		{"missing actor", ActionRequest{WorkflowID: "wf", Kind: domainwf.ActionApprove}},
		{"unknown kind", ActionRequest{WorkflowID: "wf", ActorID: "alice", Kind: "SHRUG"}},
		{"negative level", ActionRequest{WorkflowID: "wf", ActorID: "alice", Kind: domainwf.ActionApprove, Level: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SubmitAction(context.Background(), tt.req)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestSubmitAction_ConcurrentApprovalsAtSameLevel(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	var wg sync.WaitGroup
	outcomes := make([]domainwf.Outcome, 2)
	errs := make([]error, 2)
	for i, actor := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			snap, err := f.engine.SubmitAction(context.Background(), ActionRequest{
				WorkflowID: wf.WorkflowID,
				ActorID:    actor,
				Kind:       domainwf.ActionApprove,
				Level:      1,
			})
			errs[i] = err
			if snap != nil {
				outcomes[i] = snap.LastOutcome
			}
		}(i, actor)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []domainwf.Outcome{domainwf.OutcomeAdvanced, domainwf.OutcomeSuperseded}, outcomes)

	status, err := f.engine.GetStatus(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentLevel)
	assert.Equal(t, int64(3), status.Version)

	report, err := f.engine.Verify(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestSubmitAction_LevelPinnedOnArrival(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	// bob's approval lands after alice's request arrived but before it takes the lock
	var bobSnap *Snapshot
	var bobErr error
	f.workflows.arm(func() {
		bobSnap, bobErr = f.submit(wf.WorkflowID, "bob", domainwf.ActionApprove, "")
	})

	aliceSnap, aliceErr := f.submit(wf.WorkflowID, "alice", domainwf.ActionApprove, "")

	require.NoError(t, bobErr)
	require.NoError(t, aliceErr)
	assert.Equal(t, domainwf.OutcomeAdvanced, bobSnap.LastOutcome)
	assert.Equal(t, domainwf.OutcomeSuperseded, aliceSnap.LastOutcome)
	assert.Equal(t, 2, aliceSnap.CurrentLevel)

	require.Len(t, f.store.actions, 2)
	assert.Equal(t, 1, f.store.actions[1].Level)
	assert.Empty(t, f.store.security)
}

func TestVerify_SerializedWithSubmissions(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	submitted := make(chan error, 1)
	f.workflows.arm(func() {
		// Between Verify's read of the projection and of the log
		go func() {
			_, err := f.engine.SubmitAction(context.Background(), ActionRequest{
				WorkflowID: wf.WorkflowID, ActorID: "alice", Kind: domainwf.ActionApprove, Level: 1,
			})
			submitted <- err
		}()
		time.Sleep(50 * time.Millisecond)
	})

	report, err := f.engine.Verify(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.ChainValid)
	assert.False(t, report.IntegrityHold)

	require.NoError(t, <-submitted)

	status, err := f.engine.GetStatus(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.False(t, status.IntegrityHold)
	assert.Equal(t, 2, status.CurrentLevel)

	_, err = f.submit(wf.WorkflowID, "dana", domainwf.ActionApprove, "")
	require.NoError(t, err)

	report, err = f.engine.Verify(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestSubmitAction_DelegationTargetMustBeAllowed(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	_, err := f.engine.SubmitAction(context.Background(), ActionRequest{
		WorkflowID: wf.WorkflowID, ActorID: "alice", Kind: domainwf.ActionDelegate, DelegateTo: "mallory",
	})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.Len(t, f.store.security, 1)

	snap, err := f.engine.SubmitAction(context.Background(), ActionRequest{
		WorkflowID: wf.WorkflowID, ActorID: "alice", Kind: domainwf.ActionDelegate, DelegateTo: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.OutcomeRecorded, snap.LastOutcome)

	// The delegator's authority at this level is gone
	_, err = f.submit(wf.WorkflowID, "alice", domainwf.ActionApprove, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	// bob hands the decision back to alice, who is not one of his configured targets
	_, err = f.engine.SubmitAction(context.Background(), ActionRequest{
		WorkflowID: wf.WorkflowID, ActorID: "bob", Kind: domainwf.ActionDelegate, DelegateTo: "alice",
	})
	require.NoError(t, err)

	snap, err = f.submit(wf.WorkflowID, "alice", domainwf.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.CurrentLevel)
}

func TestSubmitAction_OverrideIsHighPriority(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	snap, err := f.submit(wf.WorkflowID, "carol", domainwf.ActionOverride, "vendor outage, payroll at risk")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StatusApproved, snap.Status)
	assert.True(t, snap.EmergencyOverride)
	require.Len(t, f.store.actions, 1)
	assert.Equal(t, entity.PriorityHigh, f.store.actions[0].Priority)
}

func TestSubmitAction_CancelByRequester(t *testing.T) {
	f := newFixture(t, twoLevelRule())
	wf := f.create(t, expense("tx-1", 5000))

	_, err := f.submit(wf.WorkflowID, "alice", domainwf.ActionCancel, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	snap, err := f.submit(wf.WorkflowID, "emp-1", domainwf.ActionCancel, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusCancelled, snap.Status)
}

func TestListWorkflows_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, twoLevelRule())

	_, err := f.engine.ListWorkflows(context.Background(), "DONE", 10, 0)

	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("wf-1")
	assert.Equal(t, 1, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("wf-1")
		close(acquired)
		u()
	}()

	// A different key is independent
	other := k.Lock("wf-2")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
