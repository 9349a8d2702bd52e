package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"community-energy/internal/audit"
	"community-energy/internal/auth"
	energyapp "community-energy/internal/energy/application"
	energy "community-energy/internal/energy/domain"
	"community-energy/internal/observability/metrics"
)

// APIPrefix is the root of the energy API.
const APIPrefix = "/api/v1/energy"

const maxBodyBytes = 1 << 20

// Handler provides the energy ledger HTTP endpoints.
type Handler struct {
	engine      *energyapp.Engine
	queries     *energyapp.QueryService
	auditLogger audit.Logger
	limiter     *RateLimiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler constructs a handler. auditLogger and limiter may be nil.
func NewHandler(engine *energyapp.Engine, queries *energyapp.QueryService, auditLogger audit.Logger, limiter *RateLimiter, logger *zap.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("energy handler: nil engine")
	}
	if queries == nil {
		return nil, errors.New("energy handler: nil query service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      engine,
		queries:     queries,
		auditLogger: auditLogger,
		limiter:     limiter,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// ServeHTTP handles /api/v1/energy and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)
	switch {
	case path == "/members":
		switch r.Method {
		case http.MethodPost:
			h.handleAddMember(w, r)
		case http.MethodGet:
			h.handleListMembers(w)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/members/"):
		id := strings.TrimPrefix(path, "/members/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGetMember(w, energy.MemberID(id))
		case http.MethodDelete:
			h.handleRemoveMember(w, r, energy.MemberID(id))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/battery":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, toBatteryResponse(h.queries.BatteryInfo()))
		case http.MethodPut:
			h.handleConfigureBattery(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/devices/export" && r.Method == http.MethodPut:
		h.handleReservedDevice(w, r, energy.OwnerExport)
	case path == "/devices/community" && r.Method == http.MethodPut:
		h.handleReservedDevice(w, r, energy.OwnerCommunity)
	case strings.HasPrefix(path, "/devices/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetDevice(w, energy.DeviceID(strings.TrimPrefix(path, "/devices/")))
	case path == "/import-price":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, priceResponse{Price: h.queries.ImportPrice()})
		case http.MethodPut:
			h.handleSetImportPrice(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/distribute":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDistribute(w, r)
	case path == "/consume":
		h.ConsumeHandler().ServeHTTP(w, r)
	case path == "/balances":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleBalances(w)
	case path == "/collective-consumption":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, collectiveResponse{
			Period:          h.queries.Period(),
			TotalUnconsumed: h.queries.TotalUnconsumed(),
			Lots:            toLotResponses(h.queries.CollectiveConsumption()),
		})
	case path == "/ledger/export.xlsx" || path == "/ledger/export.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, strings.TrimPrefix(path, "/ledger/export."))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ConsumeHandler serves POST consume batches. It is mounted both under the
// API and behind the meter signature middleware.
func (h *Handler) ConsumeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.limiter.allowRequest(w, r) {
			return
		}
		h.handleConsume(w, r)
	})
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	devices := make([]energy.DeviceID, len(req.Devices))
	for i, device := range req.Devices {
		devices[i] = energy.DeviceID(device)
	}
	id := energy.MemberID(req.ID)
	if err := h.engine.AddMember(r.Context(), id, devices, req.ShareBps); err != nil {
		writeEngineError(w, err)
		return
	}
	member, err := h.queries.Member(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(h.queries, member))
	h.logAudit(r, "member.add", "member", req.ID, req)
}

func (h *Handler) handleListMembers(w http.ResponseWriter) {
	members := h.queries.Members()
	resp := membersResponse{
		TotalShareBps: h.queries.TotalShare(),
		Members:       make([]memberResponse, 0, len(members)),
	}
	for _, member := range members {
		resp.Members = append(resp.Members, toMemberResponse(h.queries, member))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, id energy.MemberID) {
	member, err := h.queries.Member(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(h.queries, member))
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request, id energy.MemberID) {
	if err := h.engine.RemoveMember(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, "member.remove", "member", string(id), nil)
}

func (h *Handler) handleConfigureBattery(w http.ResponseWriter, r *http.Request) {
	var req batteryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.ConfigureBattery(r.Context(), req.Price, req.MaxCapacity); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatteryResponse(h.queries.BatteryInfo()))
	h.logAudit(r, "battery.configure", "battery", "", req)
}

func (h *Handler) handleReservedDevice(w http.ResponseWriter, r *http.Request, kind energy.OwnerKind) {
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	device := energy.DeviceID(req.DeviceID)
	var err error
	if kind == energy.OwnerExport {
		err = h.engine.SetExportDevice(r.Context(), device)
	} else {
		err = h.engine.SetCommunityDevice(r.Context(), device)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{DeviceID: req.DeviceID, Owner: kind.String()})
	h.logAudit(r, "device.reserve_"+kind.String(), "device", req.DeviceID, req)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, id energy.DeviceID) {
	owner, err := h.queries.DeviceOwner(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		DeviceID: string(id),
		Owner:    owner.Kind.String(),
		MemberID: string(owner.Member),
	})
}

func (h *Handler) handleSetImportPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetImportPrice(r.Context(), req.Price); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Price: h.queries.ImportPrice()})
	h.logAudit(r, "import_price.set", "import_price", "", req)
}

func (h *Handler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sources := make([]energy.EnergySource, len(req.Sources))
	for i, source := range req.Sources {
		sources[i] = energy.EnergySource{ID: source.ID, Price: source.Price, Quantity: source.Quantity}
	}
	report, err := h.engine.Distribute(r.Context(), sources, req.BatteryTarget)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := toDistributionResponse(report)
	writeJSON(w, http.StatusOK, resp)
	h.logAudit(r, "energy.distribute", "period", formatPeriod(report.Period), req)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	requests := make([]energy.ConsumptionRequest, len(req.Requests))
	for i, item := range req.Requests {
		requests[i] = energy.ConsumptionRequest{Device: energy.DeviceID(item.DeviceID), Quantity: item.Quantity}
	}
	result, err := h.engine.Consume(r.Context(), requests)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(result))
	h.logAudit(r, "energy.consume", "period", formatPeriod(result.Period), req)
}

func (h *Handler) handleBalances(w http.ResponseWriter) {
	view := h.queries.View()
	resp := balancesResponse{
		Period:   view.Period,
		Accounts: make([]balanceResponse, len(view.Balances)),
		ZeroSum:  view.ZeroSum,
		Net:      view.Net.String(),
	}
	for i, balance := range view.Balances {
		resp.Accounts[i] = balanceResponse{Account: balance.Account.String(), Balance: balance.Balance}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	view := h.queries.View()
	generatedAt := h.now()
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = BuildLedgerXLSX(view, generatedAt)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = BuildLedgerPDF(view, generatedAt)
		contentType = "application/pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError)
		h.logger.Error("ledger export failed", zap.String("format", format), zap.Error(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "export failed")
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess)
	filename := "ledger-" + view.CommunityID + "-" + formatPeriod(view.Period) + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "ledger.export", "ledger", format, nil)
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, payload any) {
	if h.auditLogger == nil {
		return
	}
	var meta json.RawMessage
	if payload != nil {
		meta, _ = json.Marshal(payload)
	}
	communityID := auth.CommunityIDFromContext(r.Context())
	if communityID == "" {
		communityID = h.engine.CommunityID()
	}
	err := h.auditLogger.Log(r.Context(), audit.Entry{
		CommunityID:   communityID,
		Period:        h.queries.Period(),
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      meta,
		PayloadDigest: audit.DigestJSON(meta),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
		CreatedAt:     h.now(),
	})
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "read body error")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid json")
		return false
	}
	return true
}

func formatPeriod(period uint64) string {
	return strconv.FormatUint(period, 10)
}
