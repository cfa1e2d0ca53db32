package device

import (
	"time"
)

// Snapshot result of a single sysfs scan
type Snapshot struct {
	Host      string      `json:"host"`
	ScannedAt time.Time   `json:"scannedAt"`
	Functions []*Function `json:"functions"`
	IDs       []ID        `json:"ids"`
}

// NewSnapshot constructor
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Functions: []*Function{},
		IDs:       []ID{},
	}
}
