package capture

import "errors"

// DeviceInput feeds a device into a session.
type DeviceInput struct {
	device Device
}

// NewDeviceInput creates an input for dev.
func NewDeviceInput(dev Device) (*DeviceInput, error) {
	if dev == nil {
		return nil, errors.New("capture: nil device")
	}
	return &DeviceInput{device: dev}, nil
}

// Device returns the wrapped device.
func (in *DeviceInput) Device() Device {
	return in.device
}
