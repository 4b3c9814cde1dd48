package derive

import (
	"fmt"
	"math"
	"strings"

	"example.com/backstage/services/specsheet/internal/document"
	"example.com/backstage/services/specsheet/internal/units"
)

// floatEq is the value-equality guard for float outputs. Recomputation is
// deterministic, so unchanged inputs reproduce the same float exactly; the
// epsilon only absorbs noise from values that round-tripped through JSON.
func floatEq(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

// coerce maps malformed numeric input (NaN, Inf, negatives disguised as
// weights) onto 0 so rule math always produces a value.
func coerce(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Rules returns the canonical derivation rule set.
func Rules() []Rule {
	return []Rule{
		{
			Name:   "units-per-pallet",
			Inputs: []string{"productIdentification.unitsPerCase", "productIdentification.casesPerPallet"},
			Output: "productIdentification.unitsPerPallet",
			Apply:  applyUnitsPerPallet,
		},
		{
			Name:   "ingredient-weights",
			Inputs: []string{"productIdentification.netWeight", "productIdentification.weightUnit", "billOfMaterials.ingredients[].percentage"},
			Output: "billOfMaterials.ingredients[].weight",
			Apply:  applyIngredientWeights,
		},
		{
			Name:   "weight-rollups",
			Inputs: []string{"billOfMaterials.packaging[].weight", "billOfMaterials.inclusions[].weight", "productIdentification.netWeight", "productIdentification.weightUnit"},
			Output: "billOfMaterials.*WeightRollup",
			Apply:  applyWeightRollups,
		},
		{
			Name:   "total-case-weight",
			Inputs: []string{"productIdentification.netWeight", "productIdentification.weightUnit", "productIdentification.unitsPerCase", "billOfMaterials.caseItems[].weight"},
			Output: "packoutDetails.totalCaseWeightLbs",
			Apply:  applyTotalCaseWeight,
		},
		{
			Name:   "total-pallet-weight",
			Inputs: []string{"packoutDetails.totalCaseWeightLbs", "productIdentification.casesPerPallet"},
			Output: "packoutDetails.totalPalletWeightLbs",
			Apply:  applyTotalPalletWeight,
		},
		{
			Name:   "box-quantity",
			Inputs: []string{"productIdentification.unitsPerCase", "billOfMaterials.caseItems[].description"},
			Output: "billOfMaterials.caseItems[].quantity",
			Apply:  applyBoxQuantity,
		},
	}
}

// unitsPerPallet = unitsPerCase x casesPerPallet. Non-positive input on
// either side clears the derived value to nil ("not computable"), never a
// numeric zero.
func applyUnitsPerPallet(s *document.SpecSheet) int {
	pi := &s.ProductIdentification
	if pi.UnitsPerCase <= 0 || pi.CasesPerPallet <= 0 {
		if pi.UnitsPerPallet == nil {
			return 0
		}
		pi.UnitsPerPallet = nil
		return 1
	}
	want := pi.UnitsPerCase * pi.CasesPerPallet
	if pi.UnitsPerPallet != nil && *pi.UnitsPerPallet == want {
		return 0
	}
	pi.UnitsPerPallet = &want
	return 1
}

// Per-ingredient weight in lbs: percentage/100 of the unit net weight
// converted to pounds. Each line is derived independently.
func applyIngredientWeights(s *document.SpecSheet) int {
	netLbs := units.Convert(coerce(s.ProductIdentification.NetWeight), s.ProductIdentification.WeightUnit, units.Pounds)
	writes := 0
	for i := range s.BillOfMaterials.Ingredients {
		ing := &s.BillOfMaterials.Ingredients[i]
		want := coerce(ing.Percentage) / 100 * netLbs
		if floatEq(ing.Weight, want) {
			continue
		}
		ing.Weight = want
		writes++
	}
	return writes
}

// Rollups in grams: packaging and inclusion line weights summed, the unit
// net weight converted to grams, and the three combined.
func applyWeightRollups(s *document.SpecSheet) int {
	bom := &s.BillOfMaterials

	packaging := 0.0
	for _, item := range bom.Packaging {
		packaging += coerce(item.Weight)
	}
	inclusions := 0.0
	for _, item := range bom.Inclusions {
		inclusions += coerce(item.Weight)
	}
	ingredient := units.Convert(coerce(s.ProductIdentification.NetWeight), s.ProductIdentification.WeightUnit, units.Grams)
	net := packaging + inclusions + ingredient

	writes := 0
	if !floatEq(bom.PackagingWeightRollup, packaging) {
		bom.PackagingWeightRollup = packaging
		writes++
	}
	if !floatEq(bom.InclusionWeightRollup, inclusions) {
		bom.InclusionWeightRollup = inclusions
		writes++
	}
	if !floatEq(bom.IngredientWeightRollup, ingredient) {
		bom.IngredientWeightRollup = ingredient
		writes++
	}
	if !floatEq(bom.NetWeightRollup, net) {
		bom.NetWeightRollup = net
		writes++
	}
	return writes
}

// totalCaseWeightLbs = (unit net weight in grams x unitsPerCase + case
// item weights in grams) converted to pounds.
func applyTotalCaseWeight(s *document.SpecSheet) int {
	unitGrams := units.Convert(coerce(s.ProductIdentification.NetWeight), s.ProductIdentification.WeightUnit, units.Grams)
	unitsPerCase := s.ProductIdentification.UnitsPerCase
	if unitsPerCase < 0 {
		unitsPerCase = 0
	}
	caseGrams := unitGrams * float64(unitsPerCase)
	for _, item := range s.BillOfMaterials.CaseItems {
		caseGrams += coerce(item.Weight)
	}
	want := units.Convert(caseGrams, units.Grams, units.Pounds)
	if floatEq(s.PackoutDetails.TotalCaseWeightLbs, want) {
		return 0
	}
	s.PackoutDetails.TotalCaseWeightLbs = want
	return 1
}

// totalPalletWeightLbs = totalCaseWeightLbs x casesPerPallet.
func applyTotalPalletWeight(s *document.SpecSheet) int {
	cases := s.ProductIdentification.CasesPerPallet
	if cases < 0 {
		cases = 0
	}
	want := s.PackoutDetails.TotalCaseWeightLbs * float64(cases)
	if floatEq(s.PackoutDetails.TotalPalletWeightLbs, want) {
		return 0
	}
	s.PackoutDetails.TotalPalletWeightLbs = want
	return 1
}

// A case item described as "Box" (case-insensitive) has its quantity
// force-derived as 1/unitsPerCase at 4 decimal places instead of being
// user-editable. This is a targeted override for that one line kind.
func applyBoxQuantity(s *document.SpecSheet) int {
	if s.ProductIdentification.UnitsPerCase <= 0 {
		return 0
	}
	want := fmt.Sprintf("%.4f", 1/float64(s.ProductIdentification.UnitsPerCase))
	writes := 0
	for i := range s.BillOfMaterials.CaseItems {
		item := &s.BillOfMaterials.CaseItems[i]
		if !strings.EqualFold(strings.TrimSpace(item.Description), "Box") {
			continue
		}
		if item.Quantity == want {
			continue
		}
		item.Quantity = want
		writes++
	}
	return writes
}
