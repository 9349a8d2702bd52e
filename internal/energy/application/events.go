package application

import "time"

// MemberAdded is published when a member joins.
type MemberAdded struct {
	CommunityID   string    `json:"community_id"`
	MemberID      string    `json:"member_id"`
	Devices       []string  `json:"devices"`
	ShareBps      int       `json:"share_bps"`
	TotalShareBps int       `json:"total_share_bps"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MemberRemoved is published when a member leaves.
type MemberRemoved struct {
	CommunityID   string    `json:"community_id"`
	MemberID      string    `json:"member_id"`
	TotalShareBps int       `json:"total_share_bps"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BatteryConfigured is published when battery parameters change.
type BatteryConfigured struct {
	CommunityID string    `json:"community_id"`
	Price       int64     `json:"price"`
	MaxCapacity int64     `json:"max_capacity"`
	Level       int64     `json:"level"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ReservedDeviceSet is published when the export or community device changes.
type ReservedDeviceSet struct {
	CommunityID string    `json:"community_id"`
	Role        string    `json:"role"`
	DeviceID    string    `json:"device_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ImportPriceSet is published when the import price changes.
type ImportPriceSet struct {
	CommunityID string    `json:"community_id"`
	Price       int64     `json:"price"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EnergyDistributed is published after a distribution period opens.
type EnergyDistributed struct {
	CommunityID  string           `json:"community_id"`
	Period       uint64           `json:"period"`
	Distributed  int64            `json:"distributed"`
	Charged      int64            `json:"charged"`
	Discharged   int64            `json:"discharged"`
	BatteryLevel int64            `json:"battery_level"`
	Allocations  map[string]int64 `json:"allocations"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// EnergyConsumed is published after a metering batch is settled.
type EnergyConsumed struct {
	CommunityID   string    `json:"community_id"`
	Period        uint64    `json:"period"`
	Consumed      int64     `json:"consumed"`
	Matched       int64     `json:"matched"`
	Imported      int64     `json:"imported"`
	Exported      int64     `json:"exported"`
	MeteredExport int64     `json:"metered_export"`
	Transfers     int       `json:"transfers"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Events lists every event type for registry registration.
func Events() []any {
	return []any{
		MemberAdded{},
		MemberRemoved{},
		BatteryConfigured{},
		ReservedDeviceSet{},
		ImportPriceSet{},
		EnergyDistributed{},
		EnergyConsumed{},
	}
}
