package derive

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/specsheet/internal/document"
	"example.com/backstage/services/specsheet/internal/units"
)

func newSheet() document.SpecSheet {
	return document.NewSpecSheet("specSheet", "tester")
}

func TestUnitsPerPallet(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.UnitsPerCase = 24
	sheet.ProductIdentification.CasesPerPallet = 40

	engine := NewEngine()
	engine.Run(&sheet)

	require.NotNil(t, sheet.ProductIdentification.UnitsPerPallet)
	require.Equal(t, 960, *sheet.ProductIdentification.UnitsPerPallet)
}

func TestUnitsPerPalletClearsOnNonPositiveInput(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.UnitsPerCase = 24
	sheet.ProductIdentification.CasesPerPallet = 40

	engine := NewEngine()
	engine.Run(&sheet)
	require.NotNil(t, sheet.ProductIdentification.UnitsPerPallet)

	// Zeroing an input clears the derived value to nil, never to 0.
	sheet.ProductIdentification.CasesPerPallet = 0
	engine.Run(&sheet)
	require.Nil(t, sheet.ProductIdentification.UnitsPerPallet)
}

func TestIngredientWeights(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.NetWeight = 500
	sheet.ProductIdentification.WeightUnit = units.Grams
	sheet.BillOfMaterials.Ingredients = []document.Ingredient{
		{Name: "Oats", Percentage: 20},
		{Name: "Honey", Percentage: 80},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	// 500 g = 1.10232 lbs; 20% of that is ~0.2205 lbs.
	require.InDelta(t, 0.2205, sheet.BillOfMaterials.Ingredients[0].Weight, 1e-4)
	require.InDelta(t, 0.8819, sheet.BillOfMaterials.Ingredients[1].Weight, 1e-4)
}

func TestWeightRollups(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.NetWeight = 0.5
	sheet.ProductIdentification.WeightUnit = units.Kilograms
	sheet.BillOfMaterials.Packaging = []document.LineItem{
		{Description: "Film", Weight: 10},
		{Description: "Tray", Weight: 5},
	}
	sheet.BillOfMaterials.Inclusions = []document.LineItem{
		{Description: "Sticker", Weight: 3},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	bom := sheet.BillOfMaterials
	require.InDelta(t, 15, bom.PackagingWeightRollup, 1e-9)
	require.InDelta(t, 3, bom.InclusionWeightRollup, 1e-9)
	require.InDelta(t, 500, bom.IngredientWeightRollup, 1e-9)
	require.InDelta(t, 518, bom.NetWeightRollup, 1e-9)
}

func TestTotalCaseAndPalletWeight(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.NetWeight = 100
	sheet.ProductIdentification.WeightUnit = units.Grams
	sheet.ProductIdentification.UnitsPerCase = 10
	sheet.ProductIdentification.CasesPerPallet = 4
	sheet.BillOfMaterials.CaseItems = []document.CaseItem{
		{Description: "Carton", Weight: 50},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	// (100 g x 10 + 50 g) = 1050 g = ~2.3148 lbs.
	wantCase := units.Convert(1050, units.Grams, units.Pounds)
	require.InDelta(t, wantCase, sheet.PackoutDetails.TotalCaseWeightLbs, 1e-9)
	require.InDelta(t, wantCase*4, sheet.PackoutDetails.TotalPalletWeightLbs, 1e-9)
}

func TestBoxQuantityOverride(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.UnitsPerCase = 12
	sheet.BillOfMaterials.CaseItems = []document.CaseItem{
		{Description: "Box", Quantity: "1"},
		{Description: "Carton", Quantity: "2"},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	require.Equal(t, "0.0833", sheet.BillOfMaterials.CaseItems[0].Quantity)
	// Non-Box lines keep their user-entered quantity.
	require.Equal(t, "2", sheet.BillOfMaterials.CaseItems[1].Quantity)
}

func TestBoxQuantityMatchesCaseInsensitively(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.UnitsPerCase = 4
	sheet.BillOfMaterials.CaseItems = []document.CaseItem{
		{Description: "  box "},
		{Description: "BOX"},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	require.Equal(t, "0.2500", sheet.BillOfMaterials.CaseItems[0].Quantity)
	require.Equal(t, "0.2500", sheet.BillOfMaterials.CaseItems[1].Quantity)
}

func TestMalformedInputCoercesToZero(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.NetWeight = -500
	sheet.ProductIdentification.WeightUnit = units.Grams
	sheet.BillOfMaterials.Ingredients = []document.Ingredient{
		{Name: "Oats", Percentage: 50},
	}

	engine := NewEngine()
	engine.Run(&sheet)

	require.Zero(t, sheet.BillOfMaterials.Ingredients[0].Weight)
	require.Zero(t, sheet.BillOfMaterials.IngredientWeightRollup)
}

// The guard makes the pass a fixpoint: once derived values match their
// inputs, re-running the engine writes nothing and changes nothing.
func TestRunIsIdempotent(t *testing.T) {
	sheet := newSheet()
	sheet.ProductIdentification.NetWeight = 500
	sheet.ProductIdentification.WeightUnit = units.Grams
	sheet.ProductIdentification.UnitsPerCase = 24
	sheet.ProductIdentification.CasesPerPallet = 40
	sheet.BillOfMaterials.Ingredients = []document.Ingredient{
		{Name: "Oats", Percentage: 60},
		{Name: "Honey", Percentage: 40},
	}
	sheet.BillOfMaterials.CaseItems = []document.CaseItem{
		{Description: "Box"},
		{Description: "Liner", Weight: 20},
	}

	engine := NewEngine()
	writes := engine.Run(&sheet)
	require.Greater(t, writes, 0)

	settled := sheet.Clone()
	require.Zero(t, engine.Run(&sheet))
	require.Equal(t, settled, sheet.Clone())
}

func TestRulesDeclareInputsAndOutputs(t *testing.T) {
	for _, r := range Rules() {
		require.NotEmpty(t, r.Name)
		require.NotEmpty(t, r.Inputs)
		require.NotEmpty(t, r.Output)
		require.NotNil(t, r.Apply)
	}
}

func TestWarnings(t *testing.T) {
	sheet := newSheet()
	require.Empty(t, Warnings(&sheet))

	sheet.BillOfMaterials.Ingredients = []document.Ingredient{
		{Name: "Oats", Percentage: 20},
	}
	warnings := Warnings(&sheet)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "20.00")

	sheet.BillOfMaterials.Ingredients = append(sheet.BillOfMaterials.Ingredients,
		document.Ingredient{Name: "Honey", Percentage: 80})
	require.Empty(t, Warnings(&sheet))
}
