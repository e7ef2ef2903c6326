package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	args := m.Called(ctx, d)
	if args.Error(0) == nil {
		d.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetActiveByTransaction(ctx context.Context, txID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Dispute, error) {
	args := m.Called(ctx, id, allowedFrom, next)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, id uuid.UUID, resolution, notes string, resolvedBy uuid.UUID, now time.Time) (*models.Dispute, error) {
	args := m.Called(ctx, id, resolution, notes, resolvedBy, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) AddEvidence(ctx context.Context, e *models.Evidence) error {
	args := m.Called(ctx, e)
	if args.Error(0) == nil {
		e.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error) {
	args := m.Called(ctx, disputeID)
	return args.Get(0).([]models.Evidence), args.Error(1)
}

func (m *mockDisputeRepo) AddMessage(ctx context.Context, msg *models.DisputeMessage) error {
	args := m.Called(ctx, msg)
	if args.Error(0) == nil {
		msg.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]models.DisputeMessage, error) {
	args := m.Called(ctx, disputeID, includeInternal)
	return args.Get(0).([]models.DisputeMessage), args.Error(1)
}

func (m *mockDisputeRepo) MarkMessagesRead(ctx context.Context, disputeID, readerID uuid.UUID) (int64, error) {
	args := m.Called(ctx, disputeID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDisputeRepo) CreateResolution(ctx context.Context, res *models.DisputeResolution) error {
	args := m.Called(ctx, res)
	if args.Error(0) == nil {
		res.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) GetResolutionByID(ctx context.Context, id uuid.UUID) (*models.DisputeResolution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DisputeResolution), args.Error(1)
}

func (m *mockDisputeRepo) ListResolutions(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeResolution, error) {
	args := m.Called(ctx, disputeID)
	return args.Get(0).([]models.DisputeResolution), args.Error(1)
}

func (m *mockDisputeRepo) AcceptResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DisputeResolution), args.Error(1)
}

func (m *mockDisputeRepo) RejectResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DisputeResolution), args.Error(1)
}

func (m *mockDisputeRepo) CountAcceptors(ctx context.Context, disputeID uuid.UUID) (int, error) {
	args := m.Called(ctx, disputeID)
	return args.Int(0), args.Error(1)
}

func (m *mockDisputeRepo) MarkResolutionExpired(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type disputeFixture struct {
	repo     *mockDisputeRepo
	txRepo   *mockTransactionRepo
	notifier *mockNotifier
	svc      *DisputeService

	buyerID  uuid.UUID
	sellerID uuid.UUID
	tx       *models.Transaction
	dispute  *models.Dispute
}

func newDisputeFixture() *disputeFixture {
	f := &disputeFixture{
		repo:     new(mockDisputeRepo),
		txRepo:   new(mockTransactionRepo),
		notifier: new(mockNotifier),
		buyerID:  uuid.New(),
		sellerID: uuid.New(),
	}
	f.svc = NewDisputeService(f.repo, f.txRepo, f.notifier, events.NoopPublisher{}, nil, models.ResolutionTTL)
	f.tx = &models.Transaction{
		ID:             uuid.New(),
		CreatorID:      f.buyerID,
		CreatorRole:    models.RoleBuyer,
		CounterpartyID: &f.sellerID,
		Status:         models.TransactionStatusDisputed,
	}
	f.dispute = &models.Dispute{
		ID:            uuid.New(),
		TransactionID: f.tx.ID,
		RaisedBy:      f.buyerID,
		RaisedAgainst: f.sellerID,
		Status:        models.DisputeStatusOpen,
	}
	return f
}

func validDisputeInput(txID, raisedBy uuid.UUID) CreateDisputeInput {
	return CreateDisputeInput{
		TransactionID: txID,
		RaisedBy:      raisedBy,
		DisputeType:   models.DisputeTypeDelivery,
		Reason:        "Товар не доставлен",
		Description:   "Оплатил две недели назад, трек-номер не отслеживается",
	}
}

func TestDisputeService_CreateDispute_Success(t *testing.T) {
	f := newDisputeFixture()
	f.tx.Status = models.TransactionStatusPaymentMade

	f.txRepo.On("GetByID", mock.Anything, f.tx.ID).Return(f.tx, nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Dispute")).Return(nil)
	disputed := *f.tx
	disputed.Status = models.TransactionStatusDisputed
	f.txRepo.On("SetStatus", mock.Anything, f.tx.ID, mock.Anything, models.TransactionStatusDisputed).Return(&disputed, nil)
	f.notifier.On("Notify", f.sellerID, mock.Anything, "dispute_opened", mock.Anything, mock.Anything, models.NotificationPriorityHigh).Return()
	// Подписчики получают уже переведённую в disputed строку, не старый снимок
	f.notifier.On("BroadcastToParties", mock.Anything, events.EventTransactionUpdated, mock.MatchedBy(func(data any) bool {
		broadcast, ok := data.(*models.Transaction)
		return ok && broadcast.Status == models.TransactionStatusDisputed
	})).Return()

	dispute, err := f.svc.CreateDispute(context.Background(), validDisputeInput(f.tx.ID, f.buyerID))

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, f.sellerID, dispute.RaisedAgainst)
	assert.Equal(t, models.DisputePriorityMedium, dispute.Priority)
	f.repo.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestDisputeService_CreateDispute_SecondDisputeConflict(t *testing.T) {
	f := newDisputeFixture()
	f.tx.Status = models.TransactionStatusDisputed

	f.txRepo.On("GetByID", mock.Anything, f.tx.ID).Return(f.tx, nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrActiveDisputeExists)

	_, err := f.svc.CreateDispute(context.Background(), validDisputeInput(f.tx.ID, f.buyerID))
	assert.True(t, apperror.IsConflict(err))
}

func TestDisputeService_CreateDispute_NoCounterparty(t *testing.T) {
	f := newDisputeFixture()
	f.tx.CounterpartyID = nil
	f.tx.Status = models.TransactionStatusPending

	f.txRepo.On("GetByID", mock.Anything, f.tx.ID).Return(f.tx, nil)

	_, err := f.svc.CreateDispute(context.Background(), validDisputeInput(f.tx.ID, f.buyerID))
	assert.True(t, apperror.IsInvalidTransition(err))
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_CreateDispute_NonPartyForbidden(t *testing.T) {
	f := newDisputeFixture()
	f.tx.Status = models.TransactionStatusActive

	f.txRepo.On("GetByID", mock.Anything, f.tx.ID).Return(f.tx, nil)

	_, err := f.svc.CreateDispute(context.Background(), validDisputeInput(f.tx.ID, uuid.New()))
	assert.True(t, apperror.IsForbidden(err))
}

func pendingResolution(f *disputeFixture, resolutionType, resolution string, proposedBy uuid.UUID) *models.DisputeResolution {
	return &models.DisputeResolution{
		ID:             uuid.New(),
		DisputeID:      f.dispute.ID,
		ResolutionType: resolutionType,
		ProposedBy:     proposedBy,
		Resolution:     resolution,
		Reason:         "Предлагаю закрыть вопрос",
		Status:         models.ResolutionStatusPending,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func TestDisputeService_AcceptResolution_OwnProposalForbidden(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeArbitration, models.ResolutionReleasePayment, f.buyerID)

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)

	_, err := f.svc.AcceptResolution(context.Background(), res.ID, f.buyerID)
	assert.True(t, apperror.IsForbidden(err))
	f.repo.AssertNotCalled(t, "AcceptResolution", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_AcceptResolution_Expired(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeArbitration, models.ResolutionReleasePayment, f.buyerID)
	res.ExpiresAt = time.Now().Add(-time.Minute)

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("MarkResolutionExpired", mock.Anything, res.ID).Return(nil)

	_, err := f.svc.AcceptResolution(context.Background(), res.ID, f.sellerID)
	assert.True(t, apperror.IsExpired(err))
	f.repo.AssertCalled(t, "MarkResolutionExpired", mock.Anything, res.ID)
}

// Первое принятие mediation-предложения не трогает ни спор, ни сделку.
func TestDisputeService_AcceptResolution_MediationFirstAccept(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeMediation, models.ResolutionRefundFull, f.buyerID)
	accepted := *res
	accepted.Status = models.ResolutionStatusAccepted

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("AcceptResolution", mock.Anything, res.ID, f.buyerID).Return(&accepted, nil)
	f.repo.On("CountAcceptors", mock.Anything, f.dispute.ID).Return(1, nil)
	f.notifier.On("Notify", f.sellerID, mock.Anything, "resolution_accepted", mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.svc.AcceptResolution(context.Background(), res.ID, f.buyerID)

	assert.NoError(t, err)
	assert.Equal(t, models.ResolutionStatusAccepted, result.Status)
	f.repo.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.txRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Второе принятие закрепляет решение и применяет действие к сделке.
func TestDisputeService_AcceptResolution_MediationMutualAcceptResolves(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeMediation, models.ResolutionReleasePayment, f.buyerID)
	accepted := *res
	accepted.Status = models.ResolutionStatusAccepted

	resolved := *f.dispute
	resolved.Status = models.DisputeStatusResolved
	completed := *f.tx
	completed.Status = models.TransactionStatusCompleted

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("AcceptResolution", mock.Anything, res.ID, f.sellerID).Return(&accepted, nil)
	f.repo.On("CountAcceptors", mock.Anything, f.dispute.ID).Return(2, nil)
	f.repo.On("Resolve", mock.Anything, f.dispute.ID, models.ResolutionReleasePayment, res.Reason, f.sellerID, mock.Anything).Return(&resolved, nil)
	f.txRepo.On("SetStatus", mock.Anything, f.tx.ID,
		[]string{models.TransactionStatusDisputed}, models.TransactionStatusCompleted).Return(&completed, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, "dispute_resolved", mock.Anything, mock.Anything, mock.Anything).Return()
	f.notifier.On("BroadcastToParties", mock.Anything, events.EventTransactionUpdated, mock.Anything).Return()

	_, err := f.svc.AcceptResolution(context.Background(), res.ID, f.sellerID)

	assert.NoError(t, err)
	f.repo.AssertExpectations(t)
	f.txRepo.AssertExpectations(t)
}

// Полный возврат завершает сделку неуспехом.
func TestDisputeService_AcceptResolution_RefundFullFailsTransaction(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeArbitration, models.ResolutionRefundFull, f.buyerID)
	accepted := *res
	accepted.Status = models.ResolutionStatusAccepted

	resolved := *f.dispute
	resolved.Status = models.DisputeStatusResolved
	failed := *f.tx
	failed.Status = models.TransactionStatusFailed

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("AcceptResolution", mock.Anything, res.ID, f.sellerID).Return(&accepted, nil)
	f.repo.On("Resolve", mock.Anything, f.dispute.ID, models.ResolutionRefundFull, res.Reason, f.sellerID, mock.Anything).Return(&resolved, nil)
	f.txRepo.On("SetStatus", mock.Anything, f.tx.ID,
		[]string{models.TransactionStatusDisputed}, models.TransactionStatusFailed).Return(&failed, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, "dispute_resolved", mock.Anything, mock.Anything, mock.Anything).Return()
	f.notifier.On("BroadcastToParties", mock.Anything, events.EventTransactionUpdated, mock.Anything).Return()

	_, err := f.svc.AcceptResolution(context.Background(), res.ID, f.sellerID)
	assert.NoError(t, err)
	f.txRepo.AssertExpectations(t)
}

// no_action разрешает спор, но не меняет сделку.
func TestDisputeService_AcceptResolution_NoActionLeavesTransaction(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeArbitration, models.ResolutionNoAction, f.buyerID)
	accepted := *res
	accepted.Status = models.ResolutionStatusAccepted

	resolved := *f.dispute
	resolved.Status = models.DisputeStatusResolved

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("AcceptResolution", mock.Anything, res.ID, f.sellerID).Return(&accepted, nil)
	f.repo.On("Resolve", mock.Anything, f.dispute.ID, models.ResolutionNoAction, res.Reason, f.sellerID, mock.Anything).Return(&resolved, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, "dispute_resolved", mock.Anything, mock.Anything, mock.Anything).Return()

	_, err := f.svc.AcceptResolution(context.Background(), res.ID, f.sellerID)
	assert.NoError(t, err)
	f.txRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_RejectResolution_Expired(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeMediation, models.ResolutionRefundFull, f.buyerID)
	res.ExpiresAt = time.Now().Add(-time.Minute)

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("MarkResolutionExpired", mock.Anything, res.ID).Return(nil)

	_, err := f.svc.RejectResolution(context.Background(), res.ID, f.sellerID)
	assert.True(t, apperror.IsExpired(err))
	f.repo.AssertCalled(t, "MarkResolutionExpired", mock.Anything, res.ID)
	f.repo.AssertNotCalled(t, "RejectResolution", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_RejectResolution_AlreadyDecidedConflict(t *testing.T) {
	f := newDisputeFixture()
	res := pendingResolution(f, models.ResolutionTypeMediation, models.ResolutionRefundFull, f.buyerID)

	f.repo.On("GetResolutionByID", mock.Anything, res.ID).Return(res, nil)
	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)
	f.repo.On("RejectResolution", mock.Anything, res.ID, f.sellerID).Return(nil, repository.ErrResolutionDecided)

	_, err := f.svc.RejectResolution(context.Background(), res.ID, f.sellerID)
	assert.True(t, apperror.IsConflict(err))
}

func TestDisputeService_ProposeResolution_PartialRefundRequiresAmount(t *testing.T) {
	f := newDisputeFixture()

	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)

	_, err := f.svc.ProposeResolution(context.Background(), ProposeResolutionInput{
		DisputeID:      f.dispute.ID,
		ProposedBy:     f.buyerID,
		ResolutionType: models.ResolutionTypeMediation,
		Resolution:     models.ResolutionRefundPartial,
		Reason:         "Верните половину",
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestDisputeService_AddMessage_ClosedDispute(t *testing.T) {
	f := newDisputeFixture()
	f.dispute.Status = models.DisputeStatusClosed

	f.repo.On("GetByID", mock.Anything, f.dispute.ID).Return(f.dispute, nil)

	_, err := f.svc.AddMessage(context.Background(), f.dispute.ID, f.buyerID, "есть новости?")
	assert.True(t, apperror.IsInvalidTransition(err))
}

// fakeDisputeStore — хранилище в памяти с той же семантикой, что и
// Postgres-репозиторий: CAS-переходы статусов и подсчёт различных
// принявших сторон под мьютексом.
type fakeDisputeStore struct {
	mu          sync.Mutex
	dispute     *models.Dispute
	resolutions map[uuid.UUID]*models.DisputeResolution
	evidence    []models.Evidence
	messages    []models.DisputeMessage
}

func newFakeDisputeStore(d *models.Dispute) *fakeDisputeStore {
	return &fakeDisputeStore{
		dispute:     d,
		resolutions: make(map[uuid.UUID]*models.DisputeResolution),
	}
}

func (f *fakeDisputeStore) Create(ctx context.Context, d *models.Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispute != nil && f.dispute.IsActive() && f.dispute.TransactionID == d.TransactionID {
		return repository.ErrActiveDisputeExists
	}
	d.ID = uuid.New()
	stored := *d
	f.dispute = &stored
	return nil
}

func (f *fakeDisputeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispute == nil || f.dispute.ID != id {
		return nil, repository.ErrDisputeNotFound
	}
	copied := *f.dispute
	return &copied, nil
}

func (f *fakeDisputeStore) GetActiveByTransaction(ctx context.Context, txID uuid.UUID) (*models.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispute == nil || f.dispute.TransactionID != txID || !f.dispute.IsActive() {
		return nil, repository.ErrDisputeNotFound
	}
	copied := *f.dispute
	return &copied, nil
}

func (f *fakeDisputeStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	return nil, nil
}

func (f *fakeDisputeStore) SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispute == nil || f.dispute.ID != id {
		return nil, repository.ErrDisputeNotFound
	}
	for _, from := range allowedFrom {
		if f.dispute.Status == from {
			f.dispute.Status = next
			copied := *f.dispute
			return &copied, nil
		}
	}
	return nil, repository.ErrDisputeStatusConflict
}

func (f *fakeDisputeStore) Resolve(ctx context.Context, id uuid.UUID, resolution, notes string, resolvedBy uuid.UUID, now time.Time) (*models.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dispute == nil || f.dispute.ID != id {
		return nil, repository.ErrDisputeNotFound
	}
	if !f.dispute.IsActive() {
		return nil, repository.ErrDisputeStatusConflict
	}
	f.dispute.Status = models.DisputeStatusResolved
	f.dispute.Resolution = &resolution
	f.dispute.ResolutionNotes = &notes
	f.dispute.ResolvedBy = &resolvedBy
	f.dispute.ResolvedAt = &now
	copied := *f.dispute
	return &copied, nil
}

func (f *fakeDisputeStore) AddEvidence(ctx context.Context, e *models.Evidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e.ID = uuid.New()
	f.evidence = append(f.evidence, *e)
	return nil
}

func (f *fakeDisputeStore) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Evidence(nil), f.evidence...), nil
}

func (f *fakeDisputeStore) AddMessage(ctx context.Context, m *models.DisputeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m.ID = uuid.New()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeDisputeStore) ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]models.DisputeMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.DisputeMessage
	for _, m := range f.messages {
		if includeInternal || !m.IsInternal {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeDisputeStore) MarkMessagesRead(ctx context.Context, disputeID, readerID uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeDisputeStore) CreateResolution(ctx context.Context, res *models.DisputeResolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	res.ID = uuid.New()
	stored := *res
	f.resolutions[res.ID] = &stored
	return nil
}

func (f *fakeDisputeStore) GetResolutionByID(ctx context.Context, id uuid.UUID) (*models.DisputeResolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, ok := f.resolutions[id]
	if !ok {
		return nil, repository.ErrResolutionNotFound
	}
	copied := *res
	return &copied, nil
}

func (f *fakeDisputeStore) ListResolutions(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeResolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.DisputeResolution
	for _, res := range f.resolutions {
		out = append(out, *res)
	}
	return out, nil
}

func (f *fakeDisputeStore) AcceptResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	return f.decide(id, models.ResolutionStatusAccepted, userID)
}

func (f *fakeDisputeStore) RejectResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	return f.decide(id, models.ResolutionStatusRejected, userID)
}

func (f *fakeDisputeStore) decide(id uuid.UUID, next string, userID uuid.UUID) (*models.DisputeResolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, ok := f.resolutions[id]
	if !ok {
		return nil, repository.ErrResolutionNotFound
	}
	if res.Status != models.ResolutionStatusPending {
		return nil, repository.ErrResolutionDecided
	}
	res.Status = next
	if next == models.ResolutionStatusAccepted {
		res.AcceptedBy = &userID
	} else {
		res.RejectedBy = &userID
	}
	copied := *res
	return &copied, nil
}

// CountAcceptors считает различных принявших участников, как и SQL-запрос
// с COUNT(DISTINCT accepted_by).
func (f *fakeDisputeStore) CountAcceptors(ctx context.Context, disputeID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	for _, res := range f.resolutions {
		if res.DisputeID == disputeID && res.Status == models.ResolutionStatusAccepted && res.AcceptedBy != nil {
			seen[*res.AcceptedBy] = struct{}{}
		}
	}
	return len(seen), nil
}

func (f *fakeDisputeStore) MarkResolutionExpired(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if res, ok := f.resolutions[id]; ok && res.Status == models.ResolutionStatusPending {
		res.Status = models.ResolutionStatusExpired
	}
	return nil
}

// Одна сторона не может навязать mediation-решение, принимая собственные
// предложения: сколько бы принятых записей она ни накопила, это один голос.
// Спор разрешается только когда принимает и вторая сторона.
func TestDisputeService_AcceptResolution_SinglePartyCannotForceMediation(t *testing.T) {
	buyerID := uuid.New()
	sellerID := uuid.New()
	dispute := &models.Dispute{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		RaisedBy:      buyerID,
		RaisedAgainst: sellerID,
		Status:        models.DisputeStatusOpen,
	}
	store := newFakeDisputeStore(dispute)
	txRepo := new(mockTransactionRepo)
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	notifier.On("BroadcastToParties", mock.Anything, mock.Anything, mock.Anything).Return()
	svc := NewDisputeService(store, txRepo, notifier, events.NoopPublisher{}, nil, models.ResolutionTTL)

	propose := func() *models.DisputeResolution {
		res, err := svc.ProposeResolution(context.Background(), ProposeResolutionInput{
			DisputeID:      dispute.ID,
			ProposedBy:     buyerID,
			ResolutionType: models.ResolutionTypeMediation,
			Resolution:     models.ResolutionRefundFull,
			Reason:         "Полный возврат средств",
		})
		assert.NoError(t, err)
		return res
	}

	first := propose()
	second := propose()

	_, err := svc.AcceptResolution(context.Background(), first.ID, buyerID)
	assert.NoError(t, err)
	_, err = svc.AcceptResolution(context.Background(), second.ID, buyerID)
	assert.NoError(t, err)

	// Два собственных принятия — спор по-прежнему открыт, сделка не тронута
	d, err := store.GetByID(context.Background(), dispute.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, d.Status)
	txRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Принятие второй стороной даёт второй голос, спор разрешается
	failed := &models.Transaction{ID: dispute.TransactionID, Status: models.TransactionStatusFailed}
	txRepo.On("SetStatus", mock.Anything, dispute.TransactionID,
		[]string{models.TransactionStatusDisputed}, models.TransactionStatusFailed).Return(failed, nil)

	third := propose()
	_, err = svc.AcceptResolution(context.Background(), third.ID, sellerID)
	assert.NoError(t, err)

	d, err = store.GetByID(context.Background(), dispute.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, d.Status)
	txRepo.AssertExpectations(t)
}

func TestDetectEvidenceType(t *testing.T) {
	// PNG сигнатура
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	assert.Equal(t, models.EvidenceFileTypeImage, detectEvidenceType(png))

	// Неизвестное содержимое считается документом
	assert.Equal(t, models.EvidenceFileTypeDocument, detectEvidenceType([]byte("plain text")))
	assert.Equal(t, models.EvidenceFileTypeDocument, detectEvidenceType(nil))
}
