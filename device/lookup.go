package device

// Status status type of a Lookup
type Status int

const (
	// StatusOk the device node was resolved
	StatusOk Status = 200
	// StatusNotFound no USB function backs the device node
	StatusNotFound Status = 404
)

// Lookup reply to a device node lookup
type Lookup struct {
	Status   Status    `json:"status"`
	DevNode  string    `json:"devNode"`
	Function *Function `json:"function,omitempty"`
}
