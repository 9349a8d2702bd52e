package http

import (
	energyapp "community-energy/internal/energy/application"
	energy "community-energy/internal/energy/domain"
)

type addMemberRequest struct {
	ID       string   `json:"id"`
	Devices  []string `json:"devices"`
	ShareBps int      `json:"share_bps"`
}

type memberResponse struct {
	ID              string   `json:"id"`
	Devices         []string `json:"devices"`
	ShareBps        int      `json:"share_bps"`
	AllocatedTokens int64    `json:"allocated_tokens"`
	RemainingTokens int64    `json:"remaining_tokens"`
	Balance         int64    `json:"balance"`
}

type membersResponse struct {
	TotalShareBps int              `json:"total_share_bps"`
	Members       []memberResponse `json:"members"`
}

type batteryRequest struct {
	Price       int64 `json:"price"`
	MaxCapacity int64 `json:"max_capacity"`
}

type batteryResponse struct {
	Price       int64 `json:"price"`
	MaxCapacity int64 `json:"max_capacity"`
	Level       int64 `json:"level"`
	Configured  bool  `json:"configured"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type deviceResponse struct {
	DeviceID string `json:"device_id"`
	Owner    string `json:"owner"`
	MemberID string `json:"member_id,omitempty"`
}

type priceRequest struct {
	Price int64 `json:"price"`
}

type priceResponse struct {
	Price int64 `json:"price"`
}

type sourceRequest struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type distributeRequest struct {
	Sources       []sourceRequest `json:"sources"`
	BatteryTarget *int64          `json:"battery_target,omitempty"`
}

type tierResponse struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

type distributionResponse struct {
	Period       uint64           `json:"period"`
	Tiers        []tierResponse   `json:"tiers"`
	Distributed  int64            `json:"distributed"`
	Charged      int64            `json:"charged"`
	Discharged   int64            `json:"discharged"`
	BatteryLevel int64            `json:"battery_level"`
	Allocations  map[string]int64 `json:"allocations"`
}

type consumptionRequest struct {
	DeviceID string `json:"device_id"`
	Quantity int64  `json:"quantity"`
}

type consumeRequest struct {
	Requests []consumptionRequest `json:"requests"`
}

type transferResponse struct {
	Kind     string `json:"kind"`
	Payer    string `json:"payer"`
	Payee    string `json:"payee"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Amount   int64  `json:"amount"`
}

type settlementResponse struct {
	Period        uint64             `json:"period"`
	Consumed      int64              `json:"consumed"`
	Matched       int64              `json:"matched"`
	Imported      int64              `json:"imported"`
	Exported      int64              `json:"exported"`
	MeteredExport int64              `json:"metered_export"`
	Transfers     []transferResponse `json:"transfers"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type balancesResponse struct {
	Period   uint64            `json:"period"`
	Accounts []balanceResponse `json:"accounts"`
	ZeroSum  bool              `json:"zero_sum"`
	Net      string            `json:"net"`
}

type lotResponse struct {
	Owner    string `json:"owner"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type collectiveResponse struct {
	Period          uint64        `json:"period"`
	TotalUnconsumed int64         `json:"total_unconsumed"`
	Lots            []lotResponse `json:"lots"`
}

func toMemberResponse(queries *energyapp.QueryService, member energy.Member) memberResponse {
	devices := make([]string, len(member.Devices))
	for i, device := range member.Devices {
		devices[i] = string(device)
	}
	return memberResponse{
		ID:              string(member.ID),
		Devices:         devices,
		ShareBps:        member.Share,
		AllocatedTokens: queries.AllocatedTokens(member.ID),
		RemainingTokens: queries.RemainingTokens(member.ID),
		Balance:         queries.CashBalance(member.ID),
	}
}

func toBatteryResponse(battery energy.Battery) batteryResponse {
	return batteryResponse{
		Price:       battery.Price,
		MaxCapacity: battery.Capacity,
		Level:       battery.Level,
		Configured:  battery.Configured,
	}
}

func toDistributionResponse(report energy.Distribution) distributionResponse {
	resp := distributionResponse{
		Period:       report.Period,
		Tiers:        make([]tierResponse, len(report.Tiers)),
		Distributed:  report.Distributed,
		Charged:      report.Charged,
		Discharged:   report.Discharged,
		BatteryLevel: report.BatteryLevel,
		Allocations:  make(map[string]int64, len(report.Allocations)),
	}
	for i, tier := range report.Tiers {
		resp.Tiers[i] = tierResponse{Price: tier.Price, Quantity: tier.Quantity}
	}
	for id, qty := range report.Allocations {
		resp.Allocations[string(id)] = qty
	}
	return resp
}

func toSettlementResponse(result energy.Settlement) settlementResponse {
	resp := settlementResponse{
		Period:        result.Period,
		Consumed:      result.Consumed,
		Matched:       result.Matched,
		Imported:      result.Imported,
		Exported:      result.Exported,
		MeteredExport: result.MeteredExport,
		Transfers:     make([]transferResponse, len(result.Transfers)),
	}
	for i, t := range result.Transfers {
		resp.Transfers[i] = transferResponse{
			Kind:     string(t.Kind),
			Payer:    t.Payer.String(),
			Payee:    t.Payee.String(),
			Price:    t.Price,
			Quantity: t.Quantity,
			Amount:   t.Amount,
		}
	}
	return resp
}

func toLotResponses(lots []energy.TokenLot) []lotResponse {
	out := make([]lotResponse, len(lots))
	for i, lot := range lots {
		out[i] = lotResponse{Owner: string(lot.Owner), Price: lot.Price, Quantity: lot.Quantity}
	}
	return out
}
