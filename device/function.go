package device

// Function a class device (tty, hidraw, sound ...) traced back to its USB ancestor
type Function struct {
	// vendor id, normalized lowercase hex without prefix and leading zeros
	VID string `json:"vid"`
	// product id, normalized like VID
	PID string `json:"pid"`
	// canonical sysfs path the class device's "device" link points to
	USBNode string `json:"usbNode"`
	// class (subsystem) that provided the device node, e.g. "tty"
	ClassName string `json:"className"`
	// DEVNAME from the class device's uevent, e.g. "ttyUSB0" or "snd/controlC0"
	DevName string `json:"devName"`
	// full /dev path
	DevPath string `json:"devPath"`
	// names from the usb.ids database, if one was loaded
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

// ID returns the function's VID:PID pair
func (f *Function) ID() ID {
	return ID{VID: f.VID, PID: f.PID}
}

// Matches reports whether the function carries the given normalized ids
func (f *Function) Matches(vid, pid string) bool {
	return f.VID == vid && f.PID == pid
}
