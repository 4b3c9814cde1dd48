package document

import (
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/specsheet/internal/units"
)

// Status is the lifecycle status of a spec sheet
type Status string

// Lifecycle statuses. A sheet never moves back from Approved to Draft
// within an editing session.
const (
	StatusDraft    Status = "Draft"
	StatusInReview Status = "In Review"
	StatusApproved Status = "Approved"
)

// SignatureRole identifies which party a signature block belongs to
type SignatureRole string

// Signature roles
const (
	RoleCustomer          SignatureRole = "customer"
	RoleQualityManager    SignatureRole = "qualityManager"
	RoleProductionManager SignatureRole = "productionManager"
)

// SpecSheet is the full product specification document being edited.
// ID stays uuid.Nil until the sheet is first persisted.
type SpecSheet struct {
	ID           uuid.UUID  `json:"id"`
	DocumentType string     `json:"documentType"`
	Status       Status     `json:"status"`
	Revision     string     `json:"revision"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    *time.Time `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt"`

	CustomerInfo            CustomerInfo            `json:"customerInfo"`
	ProductIdentification   ProductIdentification   `json:"productIdentification"`
	PackagingClaims         PackagingClaims         `json:"packagingClaims"`
	BillOfMaterials         BillOfMaterials         `json:"billOfMaterials"`
	ProductionDetails       ProductionDetails       `json:"productionDetails"`
	PackoutDetails          PackoutDetails          `json:"packoutDetails"`
	MixInstructions         MixInstructions         `json:"mixInstructions"`
	ProductTesting          ProductTesting          `json:"productTesting"`
	EquipmentSpecifications EquipmentSpecifications `json:"equipmentSpecifications"`
	Signatures              Signatures              `json:"signatures"`
	ActivityLog             []ActivityEntry         `json:"activityLog"`
}

// CustomerInfo holds customer contact details
type CustomerInfo struct {
	CompanyName  string `json:"companyName"`
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail"`
	ContactPhone string `json:"contactPhone"`
	Address      string `json:"address"`
}

// ProductIdentification carries the canonical unit-bearing weight pair
// (NetWeight + WeightUnit) that several derived quantities flow from.
// UnitsPerPallet is derived; nil means "not computable" rather than zero.
type ProductIdentification struct {
	ProductName    string     `json:"productName"`
	ProductCode    string     `json:"productCode"`
	UPC            string     `json:"upc"`
	LotCodeFormat  string     `json:"lotCodeFormat"`
	ShelfLife      string     `json:"shelfLife"`
	NetWeight      float64    `json:"netWeight"`
	WeightUnit     units.Unit `json:"weightUnit"`
	UnitsPerCase   int        `json:"unitsPerCase"`
	CasesPerPallet int        `json:"casesPerPallet"`
	UnitsPerPallet *int       `json:"unitsPerPallet"`
}

// PackagingClaims lists label claims made on the packaging
type PackagingClaims struct {
	Organic    bool     `json:"organic"`
	GlutenFree bool     `json:"glutenFree"`
	Kosher     bool     `json:"kosher"`
	NonGMO     bool     `json:"nonGmo"`
	Other      []string `json:"other"`
}

// Ingredient is one line of the ingredient list. Weight (lbs per unit) is
// derived from the ingredient percentage and the product net weight.
type Ingredient struct {
	Name       string  `json:"name"`
	Supplier   string  `json:"supplier"`
	Percentage float64 `json:"percentage"`
	Weight     float64 `json:"weight"`
}

// LineItem is a generic BOM line (inclusions, packaging). Weight is grams.
type LineItem struct {
	Description string  `json:"description"`
	Supplier    string  `json:"supplier"`
	Quantity    string  `json:"quantity"`
	Weight      float64 `json:"weight"`
}

// CaseItem is a case-level BOM line. Quantity is kept as entered text so
// the derived Box quantity can carry a fixed 4-decimal rendering; Weight
// and dimensions are per item, weight in grams, dimensions in inches.
type CaseItem struct {
	Description string  `json:"description"`
	Quantity    string  `json:"quantity"`
	Weight      float64 `json:"weight"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// BillOfMaterials holds the four ordered line-item lists plus the derived
// weight rollups (all rollups in grams).
type BillOfMaterials struct {
	Ingredients []Ingredient `json:"ingredients"`
	Inclusions  []LineItem   `json:"inclusions"`
	Packaging   []LineItem   `json:"packaging"`
	CaseItems   []CaseItem   `json:"caseItems"`

	PackagingWeightRollup  float64 `json:"packagingWeightRollup"`
	InclusionWeightRollup  float64 `json:"inclusionWeightRollup"`
	IngredientWeightRollup float64 `json:"ingredientWeightRollup"`
	NetWeightRollup        float64 `json:"netWeightRollup"`
}

// ProductionDetails holds production-run parameters
type ProductionDetails struct {
	BatchSize     string `json:"batchSize"`
	RunRate       string `json:"runRate"`
	LeadTime      string `json:"leadTime"`
	StorageTemp   string `json:"storageTemp"`
	ShippingNotes string `json:"shippingNotes"`
}

// PackoutDetails carries case/pallet dimensions entered by the user and
// the derived total case and pallet weights (lbs).
type PackoutDetails struct {
	CaseLength  float64 `json:"caseLength"`
	CaseWidth   float64 `json:"caseWidth"`
	CaseHeight  float64 `json:"caseHeight"`
	TiCount     int     `json:"tiCount"`
	HiCount     int     `json:"hiCount"`
	PalletNotes string  `json:"palletNotes"`

	TotalCaseWeightLbs   float64 `json:"totalCaseWeightLbs"`
	TotalPalletWeightLbs float64 `json:"totalPalletWeightLbs"`
}

// MixStep is one step of the mixing instructions
type MixStep struct {
	Step        int    `json:"step"`
	Instruction string `json:"instruction"`
	Duration    string `json:"duration"`
}

// MixInstructions holds the ordered mixing procedure
type MixInstructions struct {
	MixTime     string    `json:"mixTime"`
	MixSpeed    string    `json:"mixSpeed"`
	Steps       []MixStep `json:"steps"`
	Notes       string    `json:"notes"`
	Temperature string    `json:"temperature"`
}

// TestSpec is one row of the testing specification table
type TestSpec struct {
	Parameter string `json:"parameter"`
	Method    string `json:"method"`
	Target    string `json:"target"`
	Tolerance string `json:"tolerance"`
}

// ProductTesting holds the testing specification rows
type ProductTesting struct {
	Tests []TestSpec `json:"tests"`
	Notes string     `json:"notes"`
}

// EquipmentSpec is one piece of line equipment
type EquipmentSpec struct {
	Name     string `json:"name"`
	Settings string `json:"settings"`
	Notes    string `json:"notes"`
}

// EquipmentSpecifications lists the equipment used for the run
type EquipmentSpecifications struct {
	Equipment []EquipmentSpec `json:"equipment"`
}

// Signature is one party's sign-off block. SignatureImage holds a URL
// returned by the blob collaborator, never image bytes. Its presence is a
// one-way transition (empty to set).
type Signature struct {
	Name           string `json:"name"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	SignatureImage string `json:"signatureImage"`
}

// Signatures holds the per-role sign-off blocks
type Signatures struct {
	Customer          Signature `json:"customer"`
	QualityManager    Signature `json:"qualityManager"`
	ProductionManager Signature `json:"productionManager"`
}

// ActivityEntry is one immutable audit-log line. Entries are only ever
// appended, never mutated or removed.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// NewSpecSheet creates an empty Draft sheet for a new editing session.
func NewSpecSheet(documentType, createdBy string) SpecSheet {
	return SpecSheet{
		DocumentType: documentType,
		Status:       StatusDraft,
		Revision:     "1.0",
		CreatedBy:    createdBy,
	}
}

// Signature returns the signature block for a role. Unknown roles return
// an empty block.
func (s *Signatures) Signature(role SignatureRole) Signature {
	switch role {
	case RoleCustomer:
		return s.Customer
	case RoleQualityManager:
		return s.QualityManager
	case RoleProductionManager:
		return s.ProductionManager
	}
	return Signature{}
}

// SetSignature replaces the signature block for a role.
func (s *Signatures) SetSignature(role SignatureRole, sig Signature) {
	switch role {
	case RoleCustomer:
		s.Customer = sig
	case RoleQualityManager:
		s.QualityManager = sig
	case RoleProductionManager:
		s.ProductionManager = sig
	}
}

// Clone returns a deep copy of the sheet. Slices and pointer fields are
// copied so mutating the clone never aliases the original.
func (s SpecSheet) Clone() SpecSheet {
	out := s

	if s.CreatedAt != nil {
		t := *s.CreatedAt
		out.CreatedAt = &t
	}
	if s.UpdatedAt != nil {
		t := *s.UpdatedAt
		out.UpdatedAt = &t
	}
	if s.ProductIdentification.UnitsPerPallet != nil {
		v := *s.ProductIdentification.UnitsPerPallet
		out.ProductIdentification.UnitsPerPallet = &v
	}

	out.PackagingClaims.Other = append([]string(nil), s.PackagingClaims.Other...)
	out.BillOfMaterials.Ingredients = append([]Ingredient(nil), s.BillOfMaterials.Ingredients...)
	out.BillOfMaterials.Inclusions = append([]LineItem(nil), s.BillOfMaterials.Inclusions...)
	out.BillOfMaterials.Packaging = append([]LineItem(nil), s.BillOfMaterials.Packaging...)
	out.BillOfMaterials.CaseItems = append([]CaseItem(nil), s.BillOfMaterials.CaseItems...)
	out.MixInstructions.Steps = append([]MixStep(nil), s.MixInstructions.Steps...)
	out.ProductTesting.Tests = append([]TestSpec(nil), s.ProductTesting.Tests...)
	out.EquipmentSpecifications.Equipment = append([]EquipmentSpec(nil), s.EquipmentSpecifications.Equipment...)
	out.ActivityLog = append([]ActivityEntry(nil), s.ActivityLog...)

	return out
}
