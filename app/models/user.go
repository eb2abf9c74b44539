package models

import "time"

// User is the account a subscription belongs to. The billing engine only
// needs identity and the email address payment events are matched by;
// account management lives elsewhere.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_users_email" json:"email"`
	Name      string    `gorm:"type:varchar(100);default:''" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
