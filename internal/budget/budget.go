// Package budget implements the spend sub-model: physical line items with
// planned/actual cost and quantity, and recurring software licenses. Same
// immutability discipline as the gate and task packages.
package budget

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"gateline/internal/domain"
)

var (
	Now = time.Now

	NewID = func() string {
		return fmt.Sprintf("item-%d-%s", Now().UnixMilli(), uuid.NewString()[:8])
	}
)

// NewItem creates a planned physical line item. Quantity below 1 is coerced to 1.
func NewItem(name, category string, plannedCost float64, quantity int) domain.BudgetItem {
	if quantity < 1 {
		quantity = 1
	}
	return domain.BudgetItem{
		ID:          NewID(),
		Name:        name,
		Category:    category,
		PlannedCost: plannedCost,
		Quantity:    quantity,
		Status:      domain.ItemPlanned,
	}
}

// NewLicense creates a pending software subscription item.
func NewLicense(name string, monthlyCost float64) domain.LicenseItem {
	return domain.LicenseItem{
		ID:          NewID(),
		Name:        name,
		MonthlyCost: monthlyCost,
		Status:      domain.LicensePending,
	}
}

// NewPhysical builds a physical budget over the given line items.
func NewPhysical(allocated float64, items []domain.BudgetItem) domain.Budget {
	return domain.Budget{
		Kind:      domain.BudgetPhysical,
		Allocated: allocated,
		Items:     items,
	}
}

// NewSoftware builds a software budget; Allocated is the monthly envelope.
func NewSoftware(allocated float64, licenses []domain.LicenseItem) domain.Budget {
	return domain.Budget{
		Kind:      domain.BudgetSoftware,
		Allocated: allocated,
		Licenses:  licenses,
	}
}

// Spent is the realized spend: purchased items at actual cost (planned cost
// when no actual was recorded) for physical budgets, active licenses at
// monthly cost for software budgets.
func Spent(b domain.Budget) float64 {
	switch b.Kind {
	case domain.BudgetSoftware:
		return MonthlyCost(b.Licenses)
	default:
		var total float64
		for _, item := range b.Items {
			if item.Status != domain.ItemPurchased {
				continue
			}
			cost := item.PlannedCost
			if item.ActualCost != nil {
				cost = *item.ActualCost
			}
			total += cost * float64(item.Quantity)
		}
		return round2(total)
	}
}

// Remaining is allocated minus spent; negative when over budget.
func Remaining(b domain.Budget) float64 {
	return round2(b.Allocated - Spent(b))
}

// IsOverBudget reports spent > allocated.
func IsOverBudget(b domain.Budget) bool {
	return Spent(b) > b.Allocated
}

// EstimatedTotal projects total cost: planned cost of all non-cancelled
// physical items, or a year of non-cancelled licenses for software budgets.
func EstimatedTotal(b domain.Budget) float64 {
	switch b.Kind {
	case domain.BudgetSoftware:
		var monthly float64
		for _, l := range b.Licenses {
			if l.Status == domain.LicenseCancelled {
				continue
			}
			monthly += l.MonthlyCost
		}
		return round2(12 * monthly)
	default:
		var total float64
		for _, item := range b.Items {
			if item.Status == domain.ItemCancelled {
				continue
			}
			total += item.PlannedCost * float64(item.Quantity)
		}
		return round2(total)
	}
}

// MonthlyCost sums the monthly cost of active licenses.
func MonthlyCost(licenses []domain.LicenseItem) float64 {
	var total float64
	for _, l := range licenses {
		if l.Status == domain.LicenseActive {
			total += l.MonthlyCost
		}
	}
	return round2(total)
}

// AnnualCost is twelve months of the active licenses. There is no per-item
// billing-cycle field, so annual is always a straight multiple.
func AnnualCost(licenses []domain.LicenseItem) float64 {
	return round2(12 * MonthlyCost(licenses))
}

// UpdateItemStatus returns a copy of the items with the matching item's status
// replaced. Marking an item purchased without a recorded actual cost leaves
// ActualCost nil; Spent falls back to the planned cost. An unknown id leaves
// the list unchanged.
func UpdateItemStatus(items []domain.BudgetItem, id string, status domain.BudgetItemStatus) []domain.BudgetItem {
	out := make([]domain.BudgetItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == id {
			out[i].Status = status
		}
	}
	return out
}

// RecordActualCost returns a copy of the items with the matching item marked
// purchased at the given actual unit cost.
func RecordActualCost(items []domain.BudgetItem, id string, actual float64) []domain.BudgetItem {
	out := make([]domain.BudgetItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == id {
			cost := actual
			out[i].ActualCost = &cost
			out[i].Status = domain.ItemPurchased
		}
	}
	return out
}

// UpdateLicenseStatus returns a copy of the licenses with the matching
// license's status replaced. An unknown id leaves the list unchanged.
func UpdateLicenseStatus(licenses []domain.LicenseItem, id string, status domain.LicenseStatus) []domain.LicenseItem {
	out := make([]domain.LicenseItem, len(licenses))
	copy(out, licenses)
	for i := range out {
		if out[i].ID == id {
			out[i].Status = status
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
