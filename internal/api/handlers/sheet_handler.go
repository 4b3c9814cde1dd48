package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/specsheet/internal/document"
	"example.com/backstage/services/specsheet/internal/services"
	"example.com/backstage/services/specsheet/internal/storage"
	"example.com/backstage/services/specsheet/internal/tracing"
)

// SheetHandler handles spec-sheet editing HTTP requests
type SheetHandler struct {
	editor *services.EditorService
	tracer tracing.Tracer
}

// NewSheetHandler creates a new sheet handler
func NewSheetHandler(editor *services.EditorService, tracer tracing.Tracer) *SheetHandler {
	return &SheetHandler{
		editor: editor,
		tracer: tracer,
	}
}

// OpenSessionRequest opens an editing session: on a fresh Draft sheet when
// SheetID is absent, on a persisted sheet otherwise.
type OpenSessionRequest struct {
	DocumentType string     `json:"document_type"`
	User         string     `json:"user" binding:"required"`
	SheetID      *uuid.UUID `json:"sheet_id"`
}

// SessionResponse returns the session handle and the current sheet state.
type SessionResponse struct {
	SessionID uuid.UUID          `json:"session_id"`
	Sheet     document.SpecSheet `json:"sheet"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// HandleOpenSession opens an editing session.
func (h *SheetHandler) HandleOpenSession(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-open-session")
	defer h.tracer.EndTransaction(txn)

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	if req.SheetID == nil {
		docType := req.DocumentType
		if docType == "" {
			docType = "spec_sheet"
		}
		sessionID, sheet := h.editor.NewSession(docType, req.User)
		c.JSON(http.StatusCreated, SessionResponse{SessionID: sessionID, Sheet: sheet})
		return
	}

	sessionID, sheet, err := h.editor.OpenSession(c.Request.Context(), *req.SheetID, req.User)
	if err != nil {
		log.Error().Err(err).Str("sheet_id", req.SheetID.String()).Msg("Failed to open session")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{SessionID: sessionID, Sheet: sheet})
}

// HandleGetSheet returns the session's current in-memory sheet.
func (h *SheetHandler) HandleGetSheet(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	sheet, err := h.editor.Sheet(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	warnings, _ := h.editor.Warnings(sessionID)
	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID, Sheet: sheet, Warnings: warnings})
}

// HandleEditSection replaces one section of the sheet and runs the
// derivation pipeline.
func (h *SheetHandler) HandleEditSection(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-edit-section")
	defer h.tracer.EndTransaction(txn)

	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	section := c.Param("section")
	h.tracer.AddAttribute(txn, "section", section)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mutator, err := sectionMutator(section, body)
	if err != nil {
		log.Error().Err(err).Str("section", section).Msg("Invalid section payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	sheet, warnings, err := h.editor.ApplyEdit(c.Request.Context(), sessionID, mutator)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID, Sheet: sheet, Warnings: warnings})
}

// UpdateMetaRequest edits sheet-level fields.
type UpdateMetaRequest struct {
	Status   *document.Status `json:"status"`
	Revision *string          `json:"revision"`
}

// HandleUpdateMeta edits the sheet's lifecycle status and revision.
func (h *SheetHandler) HandleUpdateMeta(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req UpdateMetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sheet, warnings, err := h.editor.ApplyEdit(c.Request.Context(), sessionID, func(doc *document.SpecSheet) {
		if req.Status != nil {
			doc.Status = *req.Status
		}
		if req.Revision != nil {
			doc.Revision = *req.Revision
		}
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID, Sheet: sheet, Warnings: warnings})
}

// HandleSave performs an immediate save, bypassing the debounce timer.
func (h *SheetHandler) HandleSave(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-save-sheet")
	defer h.tracer.EndTransaction(txn)

	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	sheet, err := h.editor.Save(c.Request.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to save sheet")
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID, Sheet: sheet})
}

// SignRequest records a signature block for a role.
type SignRequest struct {
	Name           string `json:"name" binding:"required"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	SignatureImage string `json:"signature_image"`
}

// HandleSign records a signature for the role in the path.
func (h *SheetHandler) HandleSign(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-sign-sheet")
	defer h.tracer.EndTransaction(txn)

	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	role := document.SignatureRole(c.Param("role"))
	switch role {
	case document.RoleCustomer, document.RoleQualityManager, document.RoleProductionManager:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signature role"})
		return
	}

	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sheet, err := h.editor.Sign(c.Request.Context(), sessionID, role, document.Signature{
		Name:           req.Name,
		Title:          req.Title,
		Date:           req.Date,
		SignatureImage: req.SignatureImage,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID, Sheet: sheet})
}

// SignatureRequestRequest asks for a signature link to be emailed.
type SignatureRequestRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// HandleRequestSignature queues a signature-request notification.
func (h *SheetHandler) HandleRequestSignature(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-request-signature")
	defer h.tracer.EndTransaction(txn)

	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req SignatureRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.editor.RequestSignature(c.Request.Context(), sessionID, req.Email); err != nil {
		log.Error().Err(err).Msg("Failed to queue signature request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "signature request queued"})
}

// HandleCloseSession flushes unsaved edits and discards the session.
func (h *SheetHandler) HandleCloseSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.editor.CloseSession(c.Request.Context(), sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session closed"})
}

// HandleListSheets lists persisted sheets by lifecycle status.
func (h *SheetHandler) HandleListSheets(c *gin.Context) {
	status := document.Status(c.DefaultQuery("status", string(document.StatusDraft)))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	sheets, err := h.editor.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheets": sheets})
}

// HandleDeleteSheet removes a persisted sheet.
func (h *SheetHandler) HandleDeleteSheet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sheet id"})
		return
	}
	if err := h.editor.DeleteSheet(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sheet deleted"})
}

// HandleSearch runs a free-text search over indexed sheets.
func (h *SheetHandler) HandleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	results, err := h.editor.SearchSheets(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *SheetHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// sectionMutator parses a section payload into its typed form and returns
// a mutator assigning it. The activity log is append-only and cannot be
// replaced through this endpoint.
func sectionMutator(section string, body []byte) (document.Mutator, error) {
	assign := func(target any, apply document.Mutator) (document.Mutator, error) {
		if err := json.Unmarshal(body, target); err != nil {
			return nil, errors.Wrap(err, "failed to parse section payload")
		}
		return apply, nil
	}

	switch section {
	case "customerInfo":
		v := new(document.CustomerInfo)
		return assign(v, func(doc *document.SpecSheet) { doc.CustomerInfo = *v })
	case "productIdentification":
		v := new(document.ProductIdentification)
		return assign(v, func(doc *document.SpecSheet) {
			// unitsPerPallet is derived; preserve the stored value and
			// let the engine recompute it.
			v.UnitsPerPallet = doc.ProductIdentification.UnitsPerPallet
			doc.ProductIdentification = *v
		})
	case "packagingClaims":
		v := new(document.PackagingClaims)
		return assign(v, func(doc *document.SpecSheet) { doc.PackagingClaims = *v })
	case "billOfMaterials":
		v := new(document.BillOfMaterials)
		return assign(v, func(doc *document.SpecSheet) { doc.BillOfMaterials = *v })
	case "productionDetails":
		v := new(document.ProductionDetails)
		return assign(v, func(doc *document.SpecSheet) { doc.ProductionDetails = *v })
	case "packoutDetails":
		v := new(document.PackoutDetails)
		return assign(v, func(doc *document.SpecSheet) { doc.PackoutDetails = *v })
	case "mixInstructions":
		v := new(document.MixInstructions)
		return assign(v, func(doc *document.SpecSheet) { doc.MixInstructions = *v })
	case "productTesting":
		v := new(document.ProductTesting)
		return assign(v, func(doc *document.SpecSheet) { doc.ProductTesting = *v })
	case "equipmentSpecifications":
		v := new(document.EquipmentSpecifications)
		return assign(v, func(doc *document.SpecSheet) { doc.EquipmentSpecifications = *v })
	default:
		return nil, errors.Errorf("unknown or read-only section %q", section)
	}
}

// RegisterRoutes registers the handler's routes
func (h *SheetHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/sessions", h.HandleOpenSession)
	router.GET("/sessions/:id", h.HandleGetSheet)
	router.PUT("/sessions/:id/sections/:section", h.HandleEditSection)
	router.PATCH("/sessions/:id", h.HandleUpdateMeta)
	router.POST("/sessions/:id/save", h.HandleSave)
	router.POST("/sessions/:id/signatures/:role", h.HandleSign)
	router.POST("/sessions/:id/signature-requests", h.HandleRequestSignature)
	router.DELETE("/sessions/:id", h.HandleCloseSession)
	router.GET("/sheets", h.HandleListSheets)
	router.DELETE("/sheets/:id", h.HandleDeleteSheet)
	router.GET("/search", h.HandleSearch)
}
