package energy

// FullShare is the total ownership in basis points.
const FullShare = 10000

// Member is a registered participant.
type Member struct {
	ID      MemberID
	Devices []DeviceID
	// Share is the ownership in basis points.
	Share  int
	Active bool
}

// Clone returns a deep copy.
func (m Member) Clone() Member {
	m.Devices = append([]DeviceID(nil), m.Devices...)
	return m
}

// AddMember registers a member together with its devices.
func (l *Ledger) AddMember(id MemberID, devices []DeviceID, share int) error {
	if id == "" {
		return ErrInvalidMember
	}
	if _, ok := l.members[id]; ok {
		return ErrInvalidMember
	}
	if err := l.checkNewDevices(devices); err != nil {
		return err
	}
	if share <= 0 {
		return ErrInvalidShare
	}
	if share > FullShare-l.totalShare {
		return ErrShareOverflow
	}

	member := &Member{
		ID:      id,
		Devices: append([]DeviceID(nil), devices...),
		Share:   share,
		Active:  true,
	}
	l.members[id] = member
	l.order = append(l.order, id)
	for _, device := range devices {
		l.devices[device] = id
	}
	l.totalShare += share
	if _, ok := l.balances[id]; !ok {
		l.balances[id] = 0
	}
	return nil
}

func (l *Ledger) checkNewDevices(devices []DeviceID) error {
	if len(devices) == 0 {
		return ErrInvalidDevices
	}
	seen := make(map[DeviceID]struct{}, len(devices))
	for _, device := range devices {
		if device == "" || l.isReserved(device) {
			return ErrInvalidDevices
		}
		if _, ok := l.devices[device]; ok {
			return ErrInvalidDevices
		}
		if _, ok := seen[device]; ok {
			return ErrInvalidDevices
		}
		seen[device] = struct{}{}
	}
	return nil
}

// RemoveMember frees the member's devices and share. Lots, allocation and
// balance already recorded for the member stay in place.
func (l *Ledger) RemoveMember(id MemberID) error {
	member, ok := l.members[id]
	if !ok {
		return ErrMemberNotFound
	}
	for _, device := range member.Devices {
		delete(l.devices, device)
	}
	l.totalShare -= member.Share
	delete(l.members, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

// Member returns a registered member.
func (l *Ledger) Member(id MemberID) (Member, bool) {
	member, ok := l.members[id]
	if !ok {
		return Member{}, false
	}
	return member.Clone(), true
}

// Members returns members in registration order.
func (l *Ledger) Members() []Member {
	out := make([]Member, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.members[id].Clone())
	}
	return out
}

// TotalShare returns the sum of all member shares in basis points.
func (l *Ledger) TotalShare() int { return l.totalShare }
