package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/vicebridge/internal/bridge"
	"github.com/mattjoyce/vicebridge/internal/dispatch"
	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	connected := s.monitor.IsConnected()
	status := "ok"
	if !connected {
		status = "disconnected"
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Connected:     connected,
		State:         s.monitor.State().String(),
		QueueDepth:    s.monitor.QueueDepth(),
		LastRequestID: s.monitor.LastRequestID(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, protocol.PingCommand{})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, protocol.InfoCommand{})
}

// handleGetMemory handles GET /memory?start=&end=|length=&memspace=&bank=&side_effects=
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseAddress(q.Get("start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end := start
	switch {
	case q.Get("end") != "":
		if end, err = parseAddress(q.Get("end")); err != nil {
			s.writeError(w, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	case q.Get("length") != "":
		n, err := strconv.ParseUint(q.Get("length"), 0, 17)
		if err != nil || n == 0 || uint64(start)+n-1 > 0xffff {
			s.writeError(w, http.StatusBadRequest, "length must be 1..65536 and stay within the address space")
			return
		}
		end = uint16(uint64(start) + n - 1)
	}
	memspace, bank, ok := s.spaceAndBank(w, r)
	if !ok {
		return
	}

	cmd := protocol.MemoryGetCommand{
		SideEffects:  q.Get("side_effects") == "true",
		StartAddress: start,
		EndAddress:   end,
		MemSpace:     memspace,
		BankID:       bank,
	}
	resp, ok := s.do(w, r, cmd)
	if !ok {
		return
	}
	defer resp.Release()

	mem, isMem := resp.(*protocol.MemoryGetResponse)
	if !isMem {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("unexpected %s response", resp.Type()))
		return
	}
	respondJSON(w, http.StatusOK, MemoryResponse{
		Start:    start,
		End:      end,
		MemSpace: memspace,
		Bank:     bank,
		Data:     hex.EncodeToString(mem.Bytes()),
	})
}

func (s *Server) handleSetMemory(w http.ResponseWriter, r *http.Request) {
	var req MemorySetRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	start, err := parseAddress(req.Start)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	data, err := hex.DecodeString(strings.ReplaceAll(req.Data, " ", ""))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "data must be hex encoded")
		return
	}

	s.runCommand(w, r, protocol.MemorySetCommand{
		SideEffects:  req.SideEffects,
		StartAddress: start,
		MemSpace:     req.MemSpace,
		BankID:       req.Bank,
		Data:         data,
	})
}

func (s *Server) handleGetRegisters(w http.ResponseWriter, r *http.Request) {
	memspace, _, ok := s.spaceAndBank(w, r)
	if !ok {
		return
	}
	s.runCommand(w, r, protocol.RegistersGetCommand{MemSpace: memspace})
}

func (s *Server) handleSetRegisters(w http.ResponseWriter, r *http.Request) {
	var req RegistersSetRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	s.runCommand(w, r, protocol.RegistersSetCommand{MemSpace: req.MemSpace, Items: req.Items})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, protocol.CheckpointListCommand{})
}

func (s *Server) handleSetCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	start, err := parseAddress(req.Start)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end := start
	if req.End != "" {
		if end, err = parseAddress(req.End); err != nil {
			s.writeError(w, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	}
	op, err := parseOperations(req.Operations)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.runCommand(w, r, protocol.CheckpointSetCommand{
		StartAddress: start,
		EndAddress:   end,
		StopWhenHit:  boolOr(req.StopWhenHit, true),
		Enabled:      boolOr(req.Enabled, true),
		Operation:    op,
		Temporary:    req.Temporary,
		MemSpace:     req.MemSpace,
	})
}

func (s *Server) handleDeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "checkpoint number must be an unsigned integer")
		return
	}
	s.runCommand(w, r, protocol.CheckpointDeleteCommand{Number: uint32(n)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, protocol.ExitCommand{})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	s.runCommand(w, r, protocol.ResetCommand{Mode: req.Mode})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	req := StepRequest{Count: 1}
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	s.runCommand(w, r, protocol.AdvanceInstructionsCommand{StepOverSubroutines: req.StepOver, Count: req.Count})
}

func (s *Server) handleKeyboard(w http.ResponseWriter, r *http.Request) {
	var req KeyboardRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}
	s.runCommand(w, r, protocol.KeyboardFeedCommand{Text: req.Text})
}

func (s *Server) handleBanks(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, protocol.BanksAvailableCommand{})
}

// handleDisplay handles GET /display?use_vic=
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	useVIC := r.URL.Query().Get("use_vic") != "false"
	resp, ok := s.do(w, r, protocol.DisplayGetCommand{UseVIC: useVIC, Format: protocol.FormatIndexed8})
	if !ok {
		return
	}
	defer resp.Release()

	display, isDisplay := resp.(*protocol.DisplayGetResponse)
	if !isDisplay {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("unexpected %s response", resp.Type()))
		return
	}
	respondJSON(w, http.StatusOK, DisplayResponse{DisplayGetResponse: display, Image: display.Bytes()})
}

// handleHistory handles GET /history?limit=&request_id=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "message history is disabled")
		return
	}
	q := r.URL.Query()

	var entries []HistoryEntry
	var err error
	if v := q.Get("request_id"); v != "" {
		id, perr := strconv.ParseUint(v, 0, 32)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "request_id must be an unsigned 32-bit integer")
			return
		}
		entries, err = s.historyEntries(s.history.ByRequest(r.Context(), uint32(id)))
	} else {
		limit := 100
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 10000 {
				s.writeError(w, http.StatusBadRequest, "limit must be 1..10000")
				return
			}
		}
		entries, err = s.historyEntries(s.history.Recent(r.Context(), limit))
	}
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) historyEntries(rows []history.Entry, err error) ([]HistoryEntry, error) {
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := HistoryEntry{Entry: row}
		env, derr := row.Decode()
		if derr != nil {
			s.logger.Warn("undecodable history payload", "id", row.ID, "error", derr)
		} else {
			entry.Message, entry.Data = env.Message, env.Data
		}
		out = append(out, entry)
	}
	return out, nil
}

// runCommand executes cmd and writes the decoded reply.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd protocol.Command) {
	resp, ok := s.do(w, r, cmd)
	if !ok {
		return
	}
	defer resp.Release()
	respondJSON(w, http.StatusOK, CommandResponse{Type: resp.Type().String(), Response: resp})
}

// do runs cmd under the request timeout. On failure it writes the error
// response and releases any reply.
func (s *Server) do(w http.ResponseWriter, r *http.Request, cmd protocol.Command, opts ...bridge.EnqueueOption) (protocol.Response, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := s.monitor.Do(ctx, cmd, opts...)
	if err != nil {
		if resp != nil {
			resp.Release()
		}
		s.writeMonitorError(w, cmd, err)
		return nil, false
	}
	return resp, true
}

func (s *Server) writeMonitorError(w http.ResponseWriter, cmd protocol.Command, err error) {
	var respErr *protocol.ResponseError
	switch {
	case errors.As(err, &respErr):
		code := respErr.Code
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: &code})
		return
	case errors.Is(err, protocol.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, dispatch.ErrDisconnected), errors.Is(err, bridge.ErrNotStarted), errors.Is(err, bridge.ErrStopping):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		s.logger.Error("monitor command failed", "command", cmd.Type().String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) spaceAndBank(w http.ResponseWriter, r *http.Request) (protocol.MemSpace, uint16, bool) {
	q := r.URL.Query()
	var memspace, bank uint64
	var err error
	if v := q.Get("memspace"); v != "" {
		if memspace, err = strconv.ParseUint(v, 10, 8); err != nil {
			s.writeError(w, http.StatusBadRequest, "memspace must be 0..4")
			return 0, 0, false
		}
	}
	if v := q.Get("bank"); v != "" {
		if bank, err = strconv.ParseUint(v, 0, 16); err != nil {
			s.writeError(w, http.StatusBadRequest, "bank must be an unsigned 16-bit integer")
			return 0, 0, false
		}
	}
	return protocol.MemSpace(memspace), uint16(bank), true
}

// decodeBody reads a JSON body into v. An empty body is accepted unless
// required.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseAddress accepts decimal, 0x-prefixed hex or $-prefixed hex.
func parseAddress(v string) (uint16, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("address is required")
	}
	var (
		n   uint64
		err error
	)
	if rest, ok := strings.CutPrefix(v, "$"); ok {
		n, err = strconv.ParseUint(rest, 16, 16)
	} else {
		n, err = strconv.ParseUint(v, 0, 16)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", v)
	}
	return uint16(n), nil
}

func parseOperations(ops []string) (protocol.CpuOperation, error) {
	if len(ops) == 0 {
		return protocol.OpExec, nil
	}
	var out protocol.CpuOperation
	for _, op := range ops {
		switch strings.ToLower(strings.TrimSpace(op)) {
		case "load":
			out |= protocol.OpLoad
		case "store":
			out |= protocol.OpStore
		case "exec":
			out |= protocol.OpExec
		default:
			return 0, fmt.Errorf("unknown checkpoint operation %q", op)
		}
	}
	return out, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
