package device

// ID a vendor/product pair as found in a uevent PRODUCT line
type ID struct {
	VID string `json:"vid"`
	PID string `json:"pid"`
}

func (i ID) String() string {
	return i.VID + ":" + i.PID
}

// Less orders ids by VID, then PID
func (i ID) Less(o ID) bool {
	if i.VID != o.VID {
		return i.VID < o.VID
	}
	return i.PID < o.PID
}
