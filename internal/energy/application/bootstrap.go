package application

import (
	"context"

	"go.uber.org/zap"

	"community-energy/internal/auth"
	energy "community-energy/internal/energy/domain"
)

// Seed describes the initial configuration of a community.
type Seed struct {
	ImportPrice     int64
	BatteryPrice    int64
	BatteryCapacity int64
	ExportDevice    energy.DeviceID
	CommunityDevice energy.DeviceID
	Members         []SeedMember
}

// SeedMember is a member registered on a fresh ledger.
type SeedMember struct {
	ID       energy.MemberID
	Devices  []energy.DeviceID
	ShareBps int
}

// Bootstrap applies seed values that the stored ledger does not carry yet:
// reserved devices that are unset, an unconfigured battery, the import price
// and members of a ledger that never distributed and has no members. It is
// one atomic operation run as the system operator.
func (e *Engine) Bootstrap(ctx context.Context, seed Seed) error {
	ctx = auth.System(ctx, e.communityID)
	applied := 0
	err := e.mutate(ctx, "bootstrap", func(l *energy.Ledger) ([]any, error) {
		fresh := l.Period() == 0 && len(l.Members()) == 0
		if seed.ExportDevice != "" && l.ExportDevice() == "" {
			if err := l.SetExportDevice(seed.ExportDevice); err != nil {
				return nil, err
			}
			applied++
		}
		if seed.CommunityDevice != "" && l.CommunityDevice() == "" {
			if err := l.SetCommunityDevice(seed.CommunityDevice); err != nil {
				return nil, err
			}
			applied++
		}
		if seed.BatteryCapacity > 0 && !l.Battery().Configured {
			if err := l.ConfigureBattery(seed.BatteryPrice, seed.BatteryCapacity); err != nil {
				return nil, err
			}
			applied++
		}
		if fresh && seed.ImportPrice > 0 && l.ImportPrice() == 0 {
			if err := l.SetImportPrice(seed.ImportPrice); err != nil {
				return nil, err
			}
			applied++
		}
		if fresh {
			for _, member := range seed.Members {
				if err := l.AddMember(member.ID, member.Devices, member.ShareBps); err != nil {
					return nil, err
				}
				applied++
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("ledger bootstrapped", zap.String("community_id", e.communityID), zap.Int("applied", applied))
	return nil
}
