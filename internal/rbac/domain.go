package rbac

import "time"

// Role groups permissions within one company.
type Role struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"companyId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
