package models

import "time"

// User is a CRM staff account. Role is "admin" or "corretor".
type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"size:255;not null" json:"nome"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:16;default:corretor" json:"tipo"`
	Phone        string    `gorm:"size:32" json:"telefone"`
	Active       bool      `gorm:"not null" json:"ativo"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
