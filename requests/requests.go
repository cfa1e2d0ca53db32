package requests

// ListFunctions - list all usb functions
type ListFunctions struct{}

// FindByID - find the functions of a usb device by its ids
type FindByID struct {
	// vendor id, hex with or without 0x prefix
	VID string `json:"vid"`
	// product id, hex with or without 0x prefix
	PID string `json:"pid"`
}

// Find - find the function behind a device node
type Find struct {
	// "/dev/ttyUSB0", "ttyUSB0" or "snd/controlC0"
	Dev string `json:"dev"`
}

// ListIDs - list all vid:pid pairs
type ListIDs struct{}

// Update - rescan sysfs
type Update struct{}
