package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	energy "community-energy/internal/energy/domain"
)

// StateStore persists one community's ledger in Postgres. Save rewrites the
// community's rows inside a single transaction.
type StateStore struct {
	db          *sql.DB
	communityID string
}

// NewStateStore constructs a store scoped to a community.
func NewStateStore(db *sql.DB, communityID string) (*StateStore, error) {
	if db == nil {
		return nil, errors.New("energy state store: nil db")
	}
	if communityID == "" {
		return nil, errors.New("energy state store: empty community id")
	}
	return &StateStore{db: db, communityID: communityID}, nil
}

// Load reads the stored state, or nil when the community has no ledger row.
func (s *StateStore) Load(ctx context.Context) (*energy.State, error) {
	state := energy.State{
		Allocated: make(map[energy.MemberID]int64),
		Balances:  make(map[energy.MemberID]int64),
	}
	var exportDevice, communityDevice string
	var period int64
	err := s.db.QueryRowContext(ctx, `
SELECT export_device, community_device,
	battery_price, battery_capacity, battery_level, battery_configured,
	import_price, period, community_balance, export_balance, import_balance
FROM energy_ledger
WHERE community_id = $1`, s.communityID).Scan(
		&exportDevice, &communityDevice,
		&state.Battery.Price, &state.Battery.Capacity, &state.Battery.Level, &state.Battery.Configured,
		&state.ImportPrice, &period, &state.Community, &state.Export, &state.Import,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if period < 0 {
		return nil, energy.ErrInvalidState
	}
	state.Period = uint64(period)
	state.ExportDevice = energy.DeviceID(exportDevice)
	state.CommunityDevice = energy.DeviceID(communityDevice)

	if state.Members, err = s.loadMembers(ctx); err != nil {
		return nil, err
	}
	if state.Lots, err = s.loadLots(ctx); err != nil {
		return nil, err
	}
	if err := s.loadAccounts(ctx, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *StateStore) loadMembers(ctx context.Context) ([]energy.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT member_id, share_bps, active
FROM energy_members
WHERE community_id = $1
ORDER BY position ASC`, s.communityID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var members []energy.Member
	index := make(map[energy.MemberID]int)
	for rows.Next() {
		var member energy.Member
		var id string
		if err := rows.Scan(&id, &member.Share, &member.Active); err != nil {
			return nil, err
		}
		member.ID = energy.MemberID(id)
		index[member.ID] = len(members)
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deviceRows, err := s.db.QueryContext(ctx, `
SELECT device_id, member_id
FROM energy_member_devices
WHERE community_id = $1
ORDER BY member_id ASC, position ASC`, s.communityID)
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	defer deviceRows.Close()
	for deviceRows.Next() {
		var device, owner string
		if err := deviceRows.Scan(&device, &owner); err != nil {
			return nil, err
		}
		i, ok := index[energy.MemberID(owner)]
		if !ok {
			return nil, fmt.Errorf("device %s owned by unknown member %s: %w", device, owner, energy.ErrInvalidState)
		}
		members[i].Devices = append(members[i].Devices, energy.DeviceID(device))
	}
	return members, deviceRows.Err()
}

func (s *StateStore) loadLots(ctx context.Context) ([]energy.TokenLot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT owner_id, price, quantity
FROM energy_token_lots
WHERE community_id = $1
ORDER BY position ASC`, s.communityID)
	if err != nil {
		return nil, fmt.Errorf("load lots: %w", err)
	}
	defer rows.Close()

	var lots []energy.TokenLot
	for rows.Next() {
		var lot energy.TokenLot
		var owner string
		if err := rows.Scan(&owner, &lot.Price, &lot.Quantity); err != nil {
			return nil, err
		}
		lot.Owner = energy.MemberID(owner)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (s *StateStore) loadAccounts(ctx context.Context, state *energy.State) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT member_id, allocated, balance
FROM energy_member_accounts
WHERE community_id = $1`, s.communityID)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var allocated, balance int64
		if err := rows.Scan(&id, &allocated, &balance); err != nil {
			return err
		}
		if allocated != 0 {
			state.Allocated[energy.MemberID(id)] = allocated
		}
		state.Balances[energy.MemberID(id)] = balance
	}
	return rows.Err()
}

// Save replaces the community's rows with state.
func (s *StateStore) Save(ctx context.Context, state energy.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.save(ctx, tx, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *StateStore) save(ctx context.Context, tx *sql.Tx, state energy.State) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO energy_ledger (
	community_id, export_device, community_device,
	battery_price, battery_capacity, battery_level, battery_configured,
	import_price, period, community_balance, export_balance, import_balance, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (community_id) DO UPDATE SET
	export_device = EXCLUDED.export_device,
	community_device = EXCLUDED.community_device,
	battery_price = EXCLUDED.battery_price,
	battery_capacity = EXCLUDED.battery_capacity,
	battery_level = EXCLUDED.battery_level,
	battery_configured = EXCLUDED.battery_configured,
	import_price = EXCLUDED.import_price,
	period = EXCLUDED.period,
	community_balance = EXCLUDED.community_balance,
	export_balance = EXCLUDED.export_balance,
	import_balance = EXCLUDED.import_balance,
	updated_at = EXCLUDED.updated_at`,
		s.communityID, string(state.ExportDevice), string(state.CommunityDevice),
		state.Battery.Price, state.Battery.Capacity, state.Battery.Level, state.Battery.Configured,
		state.ImportPrice, int64(state.Period), state.Community, state.Export, state.Import, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}

	for _, table := range []string{"energy_members", "energy_member_devices", "energy_token_lots", "energy_member_accounts"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE community_id = $1", s.communityID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for position, member := range state.Members {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO energy_members (community_id, member_id, share_bps, position, active)
VALUES ($1,$2,$3,$4,$5)`, s.communityID, string(member.ID), member.Share, position, member.Active); err != nil {
			return fmt.Errorf("save member %s: %w", member.ID, err)
		}
		for i, device := range member.Devices {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO energy_member_devices (community_id, device_id, member_id, position)
VALUES ($1,$2,$3,$4)`, s.communityID, string(device), string(member.ID), i); err != nil {
				return fmt.Errorf("save device %s: %w", device, err)
			}
		}
	}

	for position, lot := range state.Lots {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO energy_token_lots (community_id, position, owner_id, price, quantity)
VALUES ($1,$2,$3,$4,$5)`, s.communityID, position, string(lot.Owner), lot.Price, lot.Quantity); err != nil {
			return fmt.Errorf("save lot %d: %w", position, err)
		}
	}

	for _, id := range accountIDs(state) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO energy_member_accounts (community_id, member_id, allocated, balance)
VALUES ($1,$2,$3,$4)`, s.communityID, string(id), state.Allocated[id], state.Balances[id]); err != nil {
			return fmt.Errorf("save account %s: %w", id, err)
		}
	}
	return nil
}

func accountIDs(state energy.State) []energy.MemberID {
	seen := make(map[energy.MemberID]struct{}, len(state.Balances))
	ids := make([]energy.MemberID, 0, len(state.Balances))
	for id := range state.Balances {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range state.Allocated {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
