package dto

// MineCustomersRequest moves customers from ยังไม่ขุด to ขุดแล้ว
type MineCustomersRequest struct {
	PageID      string `json:"-"`
	CustomerIDs []uint `json:"customer_ids" validate:"required,min=1,max=500"`
	Note        string `json:"note,omitempty" validate:"max=500"`
}

// ResetMiningStatusRequest moves customers back to ยังไม่ขุด
type ResetMiningStatusRequest struct {
	PageID      string `json:"-"`
	CustomerIDs []uint `json:"customer_ids" validate:"required,min=1,max=500"`
}

// MiningStatusResponse summarises a batch transition
type MiningStatusResponse struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	Changed   []uint `json:"changed"`
	Unchanged []uint `json:"unchanged,omitempty"`
	Rejected  []uint `json:"rejected,omitempty"`
}
