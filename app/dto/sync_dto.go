package dto

// ImportCustomersRequest selects the customer import mode of a page
type ImportCustomersRequest struct {
	PageID string `json:"-"`
	Mode   string `json:"mode" validate:"required,oneof=recent historical"`
}

type ImportCustomersResponse struct {
	Message  string `json:"message"`
	Mode     string `json:"mode"`
	Imported int    `json:"imported"`
	Filtered int    `json:"filtered"`
}

// SyncPageResponse reports one manually triggered ingest cycle
type SyncPageResponse struct {
	Message       string `json:"message"`
	Mode          string `json:"mode"`
	Conversations int    `json:"conversations"`
	NewCustomers  int    `json:"new_customers"`
	Updates       int    `json:"updates"`
}

// HealthResponse reports dependency reachability
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}
