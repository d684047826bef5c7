package coupon

import "time"

// Coupon is an externally-tracked, single-use code.
type Coupon struct {
	Code        string     `json:"code"`
	ProgramID   string     `json:"program_id,omitempty"`
	IsUsed      bool       `json:"is_used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	UsedByOrder string     `json:"used_by_order,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Usage answers a usage check. Found is false for codes the backend has never
// issued; those report IsUsed=false.
type Usage struct {
	Code   string `json:"code"`
	IsUsed bool   `json:"is_used"`
	Found  bool   `json:"found"`
}

// CreateCouponRequest issues a code.
type CreateCouponRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	ProgramID string `json:"program_id,omitempty"`
}

// UpdateUsageRequest marks a code used or unused.
type UpdateUsageRequest struct {
	IsUsed  bool   `json:"is_used"`
	OrderID string `json:"order_id,omitempty"`
}
