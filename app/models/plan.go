package models

import "time"

// Billing intervals for plans.
const (
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// Plan holds the catalog data the matcher compares payment events against
// and the service derives billing periods from. Price is in minor units.
type Plan struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"type:varchar(50);not null;uniqueIndex:ux_plans_code" json:"code"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Price     int64     `gorm:"not null" json:"price"`
	Currency  string    `gorm:"type:varchar(3);not null" json:"currency"`
	Interval  string    `gorm:"type:varchar(16);not null;default:'month'" json:"interval"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodEnd returns the end of a billing period starting at from.
func (p *Plan) PeriodEnd(from time.Time) time.Time {
	if p.Interval == PlanIntervalYear {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
