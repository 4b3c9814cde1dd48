package document

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSpecSheetDefaults(t *testing.T) {
	sheet := NewSpecSheet("specSheet", "jordan")

	require.Equal(t, StatusDraft, sheet.Status)
	require.Equal(t, "1.0", sheet.Revision)
	require.Equal(t, "jordan", sheet.CreatedBy)
	require.Nil(t, sheet.CreatedAt)
}

func TestStoreGetReturnsIsolatedCopy(t *testing.T) {
	sheet := NewSpecSheet("specSheet", "jordan")
	sheet.BillOfMaterials.Ingredients = []Ingredient{{Name: "Oats", Percentage: 100}}
	st := NewStore(sheet)

	got := st.Get()
	got.BillOfMaterials.Ingredients[0].Name = "Honey"
	got.Revision = "9.9"

	fresh := st.Get()
	require.Equal(t, "Oats", fresh.BillOfMaterials.Ingredients[0].Name)
	require.Equal(t, "1.0", fresh.Revision)
}

func TestStoreUpdateReturnsResult(t *testing.T) {
	st := NewStore(NewSpecSheet("specSheet", "jordan"))

	result := st.Update(func(s *SpecSheet) {
		s.Revision = "2.0"
	})

	require.Equal(t, "2.0", result.Revision)
	require.Equal(t, "2.0", st.Get().Revision)
}

// A mutator submitted from inside a running Update queues behind it, sees
// its writes, and is applied before Update returns to the outer caller.
func TestStoreUpdateReentrant(t *testing.T) {
	st := NewStore(NewSpecSheet("specSheet", "jordan"))

	var innerSaw string
	result := st.Update(func(s *SpecSheet) {
		s.Revision = "2.0"
		st.Update(func(inner *SpecSheet) {
			innerSaw = inner.Revision
			inner.ProductIdentification.ProductName = "Granola"
		})
	})

	require.Equal(t, "2.0", innerSaw)
	require.Equal(t, "2.0", result.Revision)
	require.Equal(t, "Granola", result.ProductIdentification.ProductName)

	got := st.Get()
	require.Equal(t, "2.0", got.Revision)
	require.Equal(t, "Granola", got.ProductIdentification.ProductName)
}

func TestStoreUpdateReentrantOrder(t *testing.T) {
	st := NewStore(NewSpecSheet("specSheet", "jordan"))

	st.Update(func(s *SpecSheet) {
		st.Update(func(inner *SpecSheet) {
			inner.PackagingClaims.Other = append(inner.PackagingClaims.Other, "first")
		})
		st.Update(func(inner *SpecSheet) {
			inner.PackagingClaims.Other = append(inner.PackagingClaims.Other, "second")
		})
	})

	require.Equal(t, []string{"first", "second"}, st.Get().PackagingClaims.Other)
}

func TestCloneIsDeep(t *testing.T) {
	upp := 960
	sheet := NewSpecSheet("specSheet", "jordan")
	sheet.ProductIdentification.UnitsPerPallet = &upp
	sheet.BillOfMaterials.CaseItems = []CaseItem{{Description: "Box"}}
	sheet.ActivityLog = []ActivityEntry{{User: "jordan", Action: "Customer Signature Added"}}

	clone := sheet.Clone()
	*clone.ProductIdentification.UnitsPerPallet = 1
	clone.BillOfMaterials.CaseItems[0].Description = "Carton"
	clone.ActivityLog[0].User = "other"

	require.Equal(t, 960, *sheet.ProductIdentification.UnitsPerPallet)
	require.Equal(t, "Box", sheet.BillOfMaterials.CaseItems[0].Description)
	require.Equal(t, "jordan", sheet.ActivityLog[0].User)
}

func TestSignatureAccessors(t *testing.T) {
	var sigs Signatures
	sig := Signature{Name: "Pat", Title: "QA", SignatureImage: "https://blob/sig.png"}

	sigs.SetSignature(RoleQualityManager, sig)
	require.Equal(t, sig, sigs.Signature(RoleQualityManager))
	require.Equal(t, Signature{}, sigs.Signature(RoleCustomer))
	require.Equal(t, Signature{}, sigs.Signature(SignatureRole("unknown")))
}
