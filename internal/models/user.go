package models

import "time"

// User is owned by the identity service. The messaging core only reads it.
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	ProfileImage string    `gorm:"type:varchar(255)" json:"profile_image"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }
