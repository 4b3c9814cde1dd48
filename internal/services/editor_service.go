package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/specsheet/config"
	"example.com/backstage/services/specsheet/internal/activity"
	"example.com/backstage/services/specsheet/internal/cache"
	"example.com/backstage/services/specsheet/internal/derive"
	"example.com/backstage/services/specsheet/internal/document"
	"example.com/backstage/services/specsheet/internal/messaging"
	"example.com/backstage/services/specsheet/internal/metrics"
	"example.com/backstage/services/specsheet/internal/notify"
	"example.com/backstage/services/specsheet/internal/search"
	"example.com/backstage/services/specsheet/internal/storage"
	"example.com/backstage/services/specsheet/internal/tracing"
)

// ErrSessionNotFound is returned for an unknown editing session id.
var ErrSessionNotFound = errors.New("editing session not found")

// Session is one open editing session. The session exclusively owns its
// in-memory sheet; there is no shared ownership across sessions.
type Session struct {
	ID       uuid.UUID
	User     string
	store    *document.Store
	debounce *storage.Debouncer

	mu       sync.Mutex
	dirty    bool
	warnings []string
}

// EditorService drives the edit loop: store mutation, synchronous
// derivation pass, activity recording, then a debounce-scheduled
// translated write against the storage collaborator.
type EditorService struct {
	records  storage.RecordStore
	saver    *storage.Saver
	engine   *derive.Engine
	recorder *activity.Recorder
	cache    *cache.RedisCache
	elastic  *search.ElasticClient
	bus      messaging.Sender
	notifier *notify.Client
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	cfg      config.EditorConfig

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewEditorService creates a new editor service. Cache, search and bus
// may be nil; the service degrades to direct storage access without them.
func NewEditorService(
	records storage.RecordStore,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	bus messaging.Sender,
	notifier *notify.Client,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
	cfg config.EditorConfig,
) *EditorService {
	return &EditorService{
		records:  records,
		saver:    storage.NewSaver(records),
		engine:   derive.NewEngine(),
		recorder: activity.NewRecorder(),
		cache:    redisCache,
		elastic:  elasticClient,
		bus:      bus,
		notifier: notifier,
		metrics:  metricsCollector,
		tracer:   tracer,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// NewSession opens a session on a fresh Draft sheet.
func (s *EditorService) NewSession(documentType, user string) (uuid.UUID, document.SpecSheet) {
	sheet := document.NewSpecSheet(documentType, user)
	sess := &Session{
		ID:       uuid.New(),
		User:     user,
		store:    document.NewStore(sheet),
		debounce: storage.NewDebouncer(s.cfg.DebounceWindow),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Info().Str("session_id", sess.ID.String()).Str("user", user).Msg("editing session opened")
	return sess.ID, sheet
}

// OpenSession opens a session on a persisted sheet, reading through the
// cache when it is available.
func (s *EditorService) OpenSession(ctx context.Context, sheetID uuid.UUID, user string) (uuid.UUID, document.SpecSheet, error) {
	txn := s.tracer.StartTransaction("open-sheet")
	defer s.tracer.EndTransaction(txn)

	sheet, err := s.loadSheet(ctx, sheetID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return uuid.Nil, document.SpecSheet{}, err
	}

	sess := &Session{
		ID:       uuid.New(),
		User:     user,
		store:    document.NewStore(sheet),
		debounce: storage.NewDebouncer(s.cfg.DebounceWindow),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("sheet_id", sheetID.String()).
		Msg("editing session opened on persisted sheet")
	return sess.ID, sheet, nil
}

func (s *EditorService) loadSheet(ctx context.Context, sheetID uuid.UUID) (document.SpecSheet, error) {
	if s.cache != nil {
		var record map[string]any
		if err := s.cache.Get(ctx, cache.GetSheetCacheKey(sheetID), &record); err == nil {
			return storage.FromStorage(record)
		}
	}

	record, err := s.records.Get(ctx, sheetID)
	if err != nil {
		return document.SpecSheet{}, errors.Wrap(err, "failed to load sheet")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.GetSheetCacheKey(sheetID), record); err != nil {
			log.Warn().Err(err).Msg("failed to cache sheet")
		}
	}
	return storage.FromStorage(record)
}

func (s *EditorService) session(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ApplyEdit runs one edit through the full pipeline: store mutation,
// derivation pass (synchronous, no I/O), activity scan, and a
// debounce-armed persist. It returns the resulting sheet and any soft
// invariant warnings, which never block the edit.
func (s *EditorService) ApplyEdit(ctx context.Context, sessionID uuid.UUID, mutator document.Mutator) (document.SpecSheet, []string, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return document.SpecSheet{}, nil, err
	}

	start := time.Now()
	var derivationWrites, appended int
	sheet := sess.store.Update(func(doc *document.SpecSheet) {
		mutator(doc)
		derivationWrites = s.engine.Run(doc)
		appended = s.recorder.Record(doc, sess.User)
	})
	warnings := derive.Warnings(&sheet)

	sess.mu.Lock()
	sess.dirty = true
	sess.warnings = warnings
	sess.mu.Unlock()

	s.metrics.IncrementCounter(metrics.CounterEdits)
	s.metrics.IncrementCounterBy(metrics.CounterDerivationWrites, int64(derivationWrites))
	s.metrics.IncrementCounterBy(metrics.CounterActivityEntries, int64(appended))
	s.metrics.RecordTimer(metrics.TimerDerivationPass, time.Since(start))

	for _, w := range warnings {
		log.Warn().Str("session_id", sessionID.String()).Msg(w)
	}

	s.scheduleSave(sess)
	return sheet, warnings, nil
}

// scheduleSave (re)arms the session's debounce window so a burst of edits
// settles into a single write.
func (s *EditorService) scheduleSave(sess *Session) {
	s.metrics.IncrementCounter(metrics.CounterSavesScheduled)
	sess.debounce.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.saveNow(ctx, sess); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("debounced save failed")
		}
	})
}

// Save performs an immediate write, cancelling any pending debounced one.
func (s *EditorService) Save(ctx context.Context, sessionID uuid.UUID) (document.SpecSheet, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return document.SpecSheet{}, err
	}
	sess.debounce.Cancel()
	if err := s.saveNow(ctx, sess); err != nil {
		return document.SpecSheet{}, err
	}
	return sess.store.Get(), nil
}

// saveNow writes the session's current sheet through the persistence
// adapter. On failure the in-memory sheet keeps its last good state and
// the error is reported to the caller; a later save re-attempts.
func (s *EditorService) saveNow(ctx context.Context, sess *Session) error {
	txn := s.tracer.StartTransaction("save-sheet")
	defer s.tracer.EndTransaction(txn)

	start := time.Now()
	sheet := sess.store.Get()

	span := s.tracer.StartSpan("persist-sheet", txn)
	saved, err := s.saver.Save(ctx, sheet)
	span.End()
	if err != nil {
		s.metrics.IncrementCounter(metrics.CounterSaveFailures)
		s.tracer.RecordError(txn, err)
		return err
	}

	// Fold the store-assigned identity and timestamps back into the
	// session sheet without touching any edits made while the write was
	// in flight.
	sess.store.Update(func(doc *document.SpecSheet) {
		doc.ID = saved.ID
		doc.CreatedAt = saved.CreatedAt
		doc.UpdatedAt = saved.UpdatedAt
	})

	sess.mu.Lock()
	sess.dirty = false
	sess.mu.Unlock()

	s.metrics.IncrementCounter(metrics.CounterSavesPerformed)
	s.metrics.RecordTimer(metrics.TimerSave, time.Since(start))

	if s.cache != nil {
		record, err := storage.ToStorage(saved)
		if err == nil {
			if err := s.cache.Set(ctx, cache.GetSheetCacheKey(saved.ID), record); err != nil {
				log.Warn().Err(err).Msg("failed to refresh sheet cache")
			}
		}
	}

	if s.elastic != nil {
		indexSpan := s.tracer.StartSpan("index-sheet", txn)
		if err := s.elastic.IndexSheet(ctx, saved); err != nil {
			log.Warn().Err(err).Str("sheet_id", saved.ID.String()).Msg("failed to index sheet")
		}
		indexSpan.End()
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("sheet_id", saved.ID.String()).
		Msg("sheet saved")
	return nil
}

// Sheet returns the session's current in-memory sheet.
func (s *EditorService) Sheet(sessionID uuid.UUID) (document.SpecSheet, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return document.SpecSheet{}, err
	}
	return sess.store.Get(), nil
}

// Warnings returns the soft-invariant warnings from the last edit.
func (s *EditorService) Warnings(sessionID uuid.UUID) ([]string, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]string(nil), sess.warnings...), nil
}

// Sign records a signature block for a role. The activity recorder turns
// the first appearance of the signature image into exactly one log entry.
func (s *EditorService) Sign(ctx context.Context, sessionID uuid.UUID, role document.SignatureRole, sig document.Signature) (document.SpecSheet, error) {
	sheet, _, err := s.ApplyEdit(ctx, sessionID, func(doc *document.SpecSheet) {
		doc.Signatures.SetSignature(role, sig)
	})
	return sheet, err
}

// RequestSignature publishes a queue event asking the worker to email a
// signature link. The sheet must have been persisted so the link resolves.
func (s *EditorService) RequestSignature(ctx context.Context, sessionID uuid.UUID, email string) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	sheet := sess.store.Get()
	if sheet.ID == uuid.Nil {
		return errors.New("sheet must be saved before requesting a signature")
	}
	if s.bus == nil {
		return errors.New("messaging is not configured")
	}

	msg := messaging.SignatureRequestMessage{
		SheetID:     sheet.ID,
		Email:       email,
		Link:        fmt.Sprintf("%s/%s/sign", s.cfg.SignLinkBase, sheet.ID),
		RequestedBy: sess.User,
	}
	if err := s.bus.SendSignatureRequest(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to publish signature request")
	}

	log.Info().Str("sheet_id", sheet.ID.String()).Str("email", email).Msg("signature request queued")
	return nil
}

// ProcessSignatureRequest is the worker-side queue handler: it delivers a
// signature-request message to the notification collaborator.
func (s *EditorService) ProcessSignatureRequest(ctx context.Context, message *azservicebus.ReceivedMessage, txn *newrelic.Transaction) error {
	var msg messaging.SignatureRequestMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return errors.Wrap(err, "failed to unmarshal signature request")
	}
	if msg.Email == "" || msg.Link == "" {
		return errors.New("signature request is missing email or link")
	}

	s.tracer.AddAttribute(txn, "sheet_id", msg.SheetID.String())
	return s.notifier.SendSignatureRequest(ctx, msg.Email, msg.Link)
}

// FlushSessions saves every session with unsaved edits. The worker runs
// this periodically as a fallback for debounce timers lost to restarts.
func (s *EditorService) FlushSessions(ctx context.Context) error {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		dirty := sess.dirty
		sess.mu.Unlock()
		if !dirty {
			continue
		}
		sess.debounce.Cancel()
		if err := s.saveNow(ctx, sess); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("failed to flush session")
		}
	}
	return nil
}

// CloseSession flushes unsaved edits and discards the session.
func (s *EditorService) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}

	sess.debounce.Cancel()
	sess.mu.Lock()
	dirty := sess.dirty
	sess.mu.Unlock()
	if dirty {
		if err := s.saveNow(ctx, sess); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// DeleteSheet removes a persisted sheet and drops its cache entry. Open
// sessions on the sheet are unaffected; their next save re-inserts.
func (s *EditorService) DeleteSheet(ctx context.Context, id uuid.UUID) error {
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.GetSheetCacheKey(id)); err != nil {
			log.Warn().Err(err).Str("sheet_id", id.String()).Msg("failed to drop sheet cache entry")
		}
	}
	log.Info().Str("sheet_id", id.String()).Msg("sheet deleted")
	return nil
}

// SearchSheets runs a free-text search over the indexed sheet summaries.
func (s *EditorService) SearchSheets(ctx context.Context, query string) ([]map[string]interface{}, error) {
	if s.elastic == nil {
		return nil, errors.New("search is not configured")
	}
	return s.elastic.SearchSheets(ctx, query)
}

// ListByStatus lists persisted sheets in a lifecycle status.
func (s *EditorService) ListByStatus(ctx context.Context, status document.Status, limit int) ([]document.SpecSheet, error) {
	records, err := s.records.ListByStatus(ctx, string(status), limit)
	if err != nil {
		return nil, err
	}
	sheets := make([]document.SpecSheet, 0, len(records))
	for _, record := range records {
		sheet, err := storage.FromStorage(record)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}
