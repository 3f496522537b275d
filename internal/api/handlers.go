package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/CampusKit/enquirybot/internal/dedup"
	"github.com/CampusKit/enquirybot/internal/flow"
	"github.com/CampusKit/enquirybot/internal/models"
)

// chatHandler is the conversation entry point. Every turn goes through the
// dedup guard: duplicate deliveries of the same turn get the cached reply,
// overlapping deliveries get a wait message, and a runaway turn gets the
// safe terminal reply.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "path", r.URL.Path)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("We couldn't read that message. Please try again."))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationMessage(err)))
		return
	}
	if req.Action != "" && !models.IsValidFlowType(models.FlowType(req.Action)) {
		slog.Warn("Server.chatHandler: unknown action", "action", req.Action)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("That option isn't available. Please pick one from the menu."))
		return
	}

	fingerprint := s.guard.Fingerprint(req.Message, req.Action, req.SessionID)
	if reply, ok := s.guard.CachedReply(fingerprint); ok {
		slog.Debug("Server.chatHandler: returning cached reply", "session_id", req.SessionID)
		writeJSONResponse(w, http.StatusOK, models.Success(reply))
		return
	}

	release, status := s.guard.Begin(req.SessionID, fingerprint)
	switch status {
	case dedup.StatusBusy:
		writeJSONResponse(w, http.StatusOK, models.Success(models.ChatReply{
			ReplyText: flow.BusyReply,
			SessionID: req.SessionID,
		}))
		return
	case dedup.StatusCeiling:
		slog.Warn("Server.chatHandler: call ceiling tripped", "session_id", req.SessionID)
		writeJSONResponse(w, http.StatusOK, models.Success(models.ChatReply{
			ReplyText: flow.CeilingReply,
			SessionID: req.SessionID,
		}))
		return
	}
	defer release()

	reply, err := s.processTurn(r, req)
	if err != nil {
		slog.Error("Server.chatHandler: turn processing failed", "error", err, "session_id", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Something went wrong on our side. Please try again."))
		return
	}

	s.guard.StoreReply(fingerprint, reply)
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// processTurn resolves the session for one chat turn and runs the engine.
// An action starts (or restarts) a flow; a bare message continues one. A
// message with no live session falls back to the menu.
func (s *Server) processTurn(r *http.Request, req models.ChatRequest) (models.ChatReply, error) {
	ctx := r.Context()
	meta := clientMeta(r)

	if req.Action != "" {
		sess, created, err := s.engine.Sessions().GetOrCreate(ctx, req.SessionID, models.FlowType(req.Action))
		if err != nil {
			return models.ChatReply{}, err
		}
		if created || strings.TrimSpace(req.Message) == "" {
			return s.engine.Greet(sess), nil
		}
		return s.engine.Advance(ctx, sess, req.Message, meta)
	}

	sess, err := s.engine.Sessions().Get(ctx, req.SessionID)
	if err != nil {
		return models.ChatReply{}, err
	}
	if sess == nil {
		return flow.Menu(req.SessionID), nil
	}
	return s.engine.Advance(ctx, sess, req.Message, meta)
}

func (s *Server) listEnquiriesHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	enquiries, err := s.store.ListEnquiries(limit, offset)
	if err != nil {
		slog.Error("Server.listEnquiriesHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Could not load enquiries."))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(enquiries))
}

// syncEnquiryHandler is the administrative CRM retry trigger. When a prior
// sync attempt exists it retries from that log entry so the retry counter is
// tracked; a never-synced enquiry gets a fresh sync.
func (s *Server) syncEnquiryHandler(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("CRM sync is not configured."))
		return
	}
	number := r.PathValue("number")

	logs, err := s.store.ListSyncLogsByEnquiry(number)
	if err != nil {
		slog.Error("Server.syncEnquiryHandler: log lookup failed", "error", err, "enquiry_number", number)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Could not load sync history."))
		return
	}

	var result models.SyncResult
	if len(logs) > 0 {
		result, err = s.syncer.Retry(r.Context(), logs[len(logs)-1].ID)
	} else {
		result, err = s.syncer.SyncByNumber(r.Context(), number)
	}
	if err != nil {
		if err == models.ErrEnquiryNotFound || err == models.ErrSyncLogNotFound {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No enquiry with that number."))
			return
		}
		slog.Error("Server.syncEnquiryHandler: sync failed", "error", err, "enquiry_number", number)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Sync could not be started."))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountSessions()
	if err != nil {
		slog.Error("Health check failed to reach store", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Storage is unavailable."))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", map[string]any{
		"active_sessions": count,
	}))
}

// validationMessage maps request validation errors to user-facing text.
func validationMessage(err error) string {
	switch err {
	case models.ErrEmptyMessage:
		return "Please type a message so I can help you."
	case models.ErrMessageTooLong:
		return "That message is a little too long. Could you shorten it?"
	case models.ErrSessionIDTooLong:
		return "We couldn't recognize this conversation. Please refresh and start again."
	default:
		return "We couldn't process that message. Please try again."
	}
}

// clientMeta captures request attribution for the enquiry record.
func clientMeta(r *http.Request) flow.Meta {
	q := r.URL.Query()
	clickID := q.Get("gclid")
	if clickID == "" {
		clickID = q.Get("fbclid")
	}
	return flow.Meta{
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
		ClickID:     clickID,
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the peer
// address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
