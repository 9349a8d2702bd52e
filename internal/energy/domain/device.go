package energy

// OwnerOf resolves a device to its owner.
func (l *Ledger) OwnerOf(device DeviceID) (DeviceOwner, error) {
	if device == "" {
		return DeviceOwner{}, ErrDeviceNotFound
	}
	if member, ok := l.devices[device]; ok {
		return MemberOwner(member), nil
	}
	switch device {
	case l.exportDevice:
		return ExportSink(), nil
	case l.communityDevice:
		return CommunitySink(), nil
	}
	return DeviceOwner{}, ErrDeviceNotFound
}

// SetExportDevice reserves the device used to meter grid export.
// Calling it again replaces the previous reservation.
func (l *Ledger) SetExportDevice(device DeviceID) error {
	if err := l.checkReserved(device, l.communityDevice); err != nil {
		return err
	}
	l.exportDevice = device
	return nil
}

// SetCommunityDevice reserves the device metering community-wide loads.
func (l *Ledger) SetCommunityDevice(device DeviceID) error {
	if err := l.checkReserved(device, l.exportDevice); err != nil {
		return err
	}
	l.communityDevice = device
	return nil
}

// ExportDevice returns the reserved export device, if set.
func (l *Ledger) ExportDevice() DeviceID { return l.exportDevice }

// CommunityDevice returns the reserved community device, if set.
func (l *Ledger) CommunityDevice() DeviceID { return l.communityDevice }

func (l *Ledger) checkReserved(device, other DeviceID) error {
	if device == "" || device == other {
		return ErrInvalidDevices
	}
	if _, owned := l.devices[device]; owned {
		return ErrInvalidDevices
	}
	return nil
}

func (l *Ledger) isReserved(device DeviceID) bool {
	return device != "" && (device == l.exportDevice || device == l.communityDevice)
}
