package domain

// BudgetKind discriminates the two budget shapes.
type BudgetKind string

const (
	BudgetPhysical BudgetKind = "physical"
	BudgetSoftware BudgetKind = "software"
)

type BudgetItemStatus string

const (
	ItemPlanned   BudgetItemStatus = "planned"
	ItemPurchased BudgetItemStatus = "purchased"
	ItemCancelled BudgetItemStatus = "cancelled"
)

// BudgetItem is a physical-budget line item. ActualCost is nil until the
// purchase is realized.
type BudgetItem struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Category    string           `json:"category,omitempty" yaml:"category,omitempty"`
	PlannedCost float64          `json:"planned_cost" yaml:"planned_cost"`
	ActualCost  *float64         `json:"actual_cost,omitempty" yaml:"actual_cost,omitempty"`
	Quantity    int              `json:"quantity" yaml:"quantity"`
	Status      BudgetItemStatus `json:"status" yaml:"status" enum:"planned,purchased,cancelled"`
}

type LicenseStatus string

const (
	LicenseActive    LicenseStatus = "active"
	LicenseCancelled LicenseStatus = "cancelled"
	LicensePending   LicenseStatus = "pending"
)

// LicenseItem is a recurring software-budget subscription.
type LicenseItem struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	MonthlyCost float64       `json:"monthly_cost" yaml:"monthly_cost"`
	Status      LicenseStatus `json:"status" yaml:"status" enum:"active,cancelled,pending"`
}

// Budget is a discriminated union: Items is populated for physical budgets,
// Licenses for software budgets. Allocated is the total (physical) or monthly
// (software) envelope.
type Budget struct {
	Kind      BudgetKind    `json:"kind" yaml:"kind" enum:"physical,software"`
	Allocated float64       `json:"allocated" yaml:"allocated"`
	Items     []BudgetItem  `json:"items,omitempty" yaml:"items,omitempty"`
	Licenses  []LicenseItem `json:"licenses,omitempty" yaml:"licenses,omitempty"`
}
