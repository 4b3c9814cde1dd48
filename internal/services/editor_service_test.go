package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/specsheet/config"
	"example.com/backstage/services/specsheet/internal/activity"
	"example.com/backstage/services/specsheet/internal/document"
	"example.com/backstage/services/specsheet/internal/messaging"
	"example.com/backstage/services/specsheet/internal/metrics"
	"example.com/backstage/services/specsheet/internal/notify"
	"example.com/backstage/services/specsheet/internal/storage"
	"example.com/backstage/services/specsheet/internal/tracing"
	"example.com/backstage/services/specsheet/internal/units"
)

// MockRecordStore is a mock implementation of storage.RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Insert(ctx context.Context, record map[string]any) (map[string]any, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockRecordStore) Update(ctx context.Context, id uuid.UUID, record map[string]any) (map[string]any, error) {
	args := m.Called(ctx, id, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockRecordStore) Get(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockRecordStore) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRecordStore) ListByStatus(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]any), args.Error(1)
}

// MockSender is a mock implementation of messaging.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendSignatureRequest(ctx context.Context, msg messaging.SignatureRequestMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockSender) Close() error {
	args := m.Called()
	return args.Error(0)
}

func noopTracer(t *testing.T) tracing.Tracer {
	t.Helper()
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	return tracer
}

func newTestService(t *testing.T, records storage.RecordStore, bus messaging.Sender, notifier *notify.Client, window time.Duration) *EditorService {
	t.Helper()
	return NewEditorService(records, nil, nil, bus, notifier, metrics.NewMetrics(), noopTracer(t), config.EditorConfig{
		DebounceWindow: window,
		SignLinkBase:   "http://localhost:8080/sheets",
	})
}

// persistedRecord builds the stored form of a sheet as the record store
// would return it after a write.
func persistedRecord(t *testing.T, id uuid.UUID) map[string]any {
	t.Helper()
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	sheet := document.NewSpecSheet("specSheet", "jordan")
	sheet.ID = id
	sheet.CreatedAt = &now
	sheet.UpdatedAt = &now
	record, err := storage.ToStorage(sheet)
	require.NoError(t, err)
	return record
}

func TestApplyEditRunsDerivation(t *testing.T) {
	svc := newTestService(t, new(MockRecordStore), nil, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	sheet, warnings, err := svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
		doc.ProductIdentification.NetWeight = 500
		doc.ProductIdentification.WeightUnit = units.Grams
		doc.ProductIdentification.UnitsPerCase = 24
		doc.ProductIdentification.CasesPerPallet = 40
		doc.BillOfMaterials.Ingredients = []document.Ingredient{
			{Name: "Oats", Percentage: 20},
		}
	})
	require.NoError(t, err)

	// The derivation pass completed before ApplyEdit returned.
	require.NotNil(t, sheet.ProductIdentification.UnitsPerPallet)
	require.Equal(t, 960, *sheet.ProductIdentification.UnitsPerPallet)
	require.InDelta(t, 0.2205, sheet.BillOfMaterials.Ingredients[0].Weight, 1e-4)

	// Percentages summing to 20 raise a warning without blocking the edit.
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "expected 100")

	stored, err := svc.Warnings(sessionID)
	require.NoError(t, err)
	require.Equal(t, warnings, stored)
}

func TestApplyEditUnknownSession(t *testing.T) {
	svc := newTestService(t, new(MockRecordStore), nil, nil, time.Hour)

	_, _, err := svc.ApplyEdit(context.Background(), uuid.New(), func(doc *document.SpecSheet) {})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveInsertsThenUpdates(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(persistedRecord(t, id), nil).Once()
	records.On("Update", mock.Anything, id, mock.Anything).Return(persistedRecord(t, id), nil).Once()

	svc := newTestService(t, records, nil, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	_, _, err := svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
		doc.ProductIdentification.ProductName = "Granola Bar"
	})
	require.NoError(t, err)

	// First save has no persisted id and inserts; the assigned identity is
	// folded back into the session sheet.
	saved, err := svc.Save(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, id, saved.ID)
	require.NotNil(t, saved.CreatedAt)

	// Second save is keyed on the id and updates.
	_, _, err = svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
		doc.Revision = "2.0"
	})
	require.NoError(t, err)
	_, err = svc.Save(context.Background(), sessionID)
	require.NoError(t, err)

	records.AssertExpectations(t)
}

func TestSaveFailureLeavesSheetIntact(t *testing.T) {
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	svc := newTestService(t, records, nil, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	_, _, err := svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
		doc.ProductIdentification.ProductName = "Granola Bar"
	})
	require.NoError(t, err)

	_, err = svc.Save(context.Background(), sessionID)
	require.Error(t, err)

	// The in-memory sheet keeps its last good state: edits intact, still
	// unpersisted.
	sheet, err := svc.Sheet(sessionID)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, sheet.ID)
	require.Equal(t, "Granola Bar", sheet.ProductIdentification.ProductName)
}

func TestEditBurstDebouncesToSingleSave(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(persistedRecord(t, id), nil)

	svc := newTestService(t, records, nil, nil, 50*time.Millisecond)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	for i := 0; i < 4; i++ {
		_, _, err := svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
			doc.ProductIdentification.UnitsPerCase = 24
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		sheet, err := svc.Sheet(sessionID)
		return err == nil && sheet.ID == id
	}, 2*time.Second, 10*time.Millisecond)

	records.AssertNumberOfCalls(t, "Insert", 1)
}

func TestSignRecordsActivityOnce(t *testing.T) {
	svc := newTestService(t, new(MockRecordStore), nil, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	sig := document.Signature{Name: "Pat", SignatureImage: "https://blob/sig.png"}
	sheet, err := svc.Sign(context.Background(), sessionID, document.RoleCustomer, sig)
	require.NoError(t, err)
	require.Len(t, sheet.ActivityLog, 1)
	require.Equal(t, activity.ActionCustomerSignatureAdded, sheet.ActivityLog[0].Action)

	// Re-signing the same role never duplicates the log entry.
	sheet, err = svc.Sign(context.Background(), sessionID, document.RoleCustomer, sig)
	require.NoError(t, err)
	require.Len(t, sheet.ActivityLog, 1)
}

func TestRequestSignatureRequiresPersistedSheet(t *testing.T) {
	svc := newTestService(t, new(MockRecordStore), new(MockSender), nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	err := svc.RequestSignature(context.Background(), sessionID, "pat@acme.example")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be saved")
}

func TestRequestSignaturePublishesMessage(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(persistedRecord(t, id), nil)

	bus := new(MockSender)
	bus.On("SendSignatureRequest", mock.Anything, mock.MatchedBy(func(msg messaging.SignatureRequestMessage) bool {
		return msg.SheetID == id &&
			msg.Email == "pat@acme.example" &&
			msg.RequestedBy == "jordan" &&
			msg.Link == "http://localhost:8080/sheets/"+id.String()+"/sign"
	})).Return(nil)

	svc := newTestService(t, records, bus, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	_, err := svc.Save(context.Background(), sessionID)
	require.NoError(t, err)

	err = svc.RequestSignature(context.Background(), sessionID, "pat@acme.example")
	require.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestProcessSignatureRequest(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc := newTestService(t, new(MockRecordStore), nil, notify.NewClient(server.URL), time.Hour)

	body, err := json.Marshal(messaging.SignatureRequestMessage{
		SheetID: uuid.New(),
		Email:   "pat@acme.example",
		Link:    "http://localhost:8080/sheets/x/sign",
	})
	require.NoError(t, err)

	err = svc.ProcessSignatureRequest(context.Background(), &azservicebus.ReceivedMessage{Body: body}, nil)
	require.NoError(t, err)
	require.Equal(t, "pat@acme.example", got["email"])
	require.Equal(t, "http://localhost:8080/sheets/x/sign", got["link"])
}

func TestProcessSignatureRequestRejectsIncompleteMessage(t *testing.T) {
	svc := newTestService(t, new(MockRecordStore), nil, nil, time.Hour)

	body, err := json.Marshal(messaging.SignatureRequestMessage{Email: "pat@acme.example"})
	require.NoError(t, err)
	err = svc.ProcessSignatureRequest(context.Background(), &azservicebus.ReceivedMessage{Body: body}, nil)
	require.Error(t, err)

	err = svc.ProcessSignatureRequest(context.Background(), &azservicebus.ReceivedMessage{Body: []byte("not json")}, nil)
	require.Error(t, err)
}

func TestFlushSessionsSavesOnlyDirtyOnes(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(persistedRecord(t, id), nil)

	svc := newTestService(t, records, nil, nil, time.Hour)
	dirtyID, _ := svc.NewSession("specSheet", "jordan")
	svc.NewSession("specSheet", "alex")

	_, _, err := svc.ApplyEdit(context.Background(), dirtyID, func(doc *document.SpecSheet) {
		doc.Revision = "2.0"
	})
	require.NoError(t, err)

	require.NoError(t, svc.FlushSessions(context.Background()))
	records.AssertNumberOfCalls(t, "Insert", 1)
}

func TestCloseSessionFlushesAndDiscards(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Insert", mock.Anything, mock.Anything).Return(persistedRecord(t, id), nil)

	svc := newTestService(t, records, nil, nil, time.Hour)
	sessionID, _ := svc.NewSession("specSheet", "jordan")

	_, _, err := svc.ApplyEdit(context.Background(), sessionID, func(doc *document.SpecSheet) {
		doc.Revision = "2.0"
	})
	require.NoError(t, err)

	require.NoError(t, svc.CloseSession(context.Background(), sessionID))
	records.AssertNumberOfCalls(t, "Insert", 1)

	_, err = svc.Sheet(sessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenSessionLoadsPersistedSheet(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Get", mock.Anything, id).Return(persistedRecord(t, id), nil)

	svc := newTestService(t, records, nil, nil, time.Hour)
	sessionID, sheet, err := svc.OpenSession(context.Background(), id, "jordan")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sessionID)
	require.Equal(t, id, sheet.ID)
}

func TestOpenSessionNotFound(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Get", mock.Anything, id).Return(nil, storage.ErrNotFound)

	svc := newTestService(t, records, nil, nil, time.Hour)
	_, _, err := svc.OpenSession(context.Background(), id, "jordan")
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSheet(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Delete", mock.Anything, id).Return(nil)

	svc := newTestService(t, records, nil, nil, time.Hour)
	require.NoError(t, svc.DeleteSheet(context.Background(), id))
	records.AssertExpectations(t)
}

func TestDeleteSheetNotFound(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("Delete", mock.Anything, id).Return(storage.ErrNotFound)

	svc := newTestService(t, records, nil, nil, time.Hour)
	require.ErrorIs(t, svc.DeleteSheet(context.Background(), id), storage.ErrNotFound)
}

func TestListByStatus(t *testing.T) {
	id := uuid.New()
	records := new(MockRecordStore)
	records.On("ListByStatus", mock.Anything, "Draft", 10).
		Return([]map[string]any{persistedRecord(t, id)}, nil)

	svc := newTestService(t, records, nil, nil, time.Hour)
	sheets, err := svc.ListByStatus(context.Background(), document.StatusDraft, 10)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	require.Equal(t, id, sheets[0].ID)
}
