package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"a2csmcp/internal/socketio"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

// Authenticator decides whether a connection attempt is admitted. It sees
// the upgrade request, so credentials can travel in headers or the query
// string. A nil authenticator admits everyone.
type Authenticator func(r *http.Request) error

const defaultForwardTimeout = 30 * time.Second

// Hub is the namespaced signaling router between Agents and Computers. It
// owns session state, enforces the join rules, broadcasts lifecycle
// notifications, and forwards client:* requests point-to-point to the
// target Computer.
type Hub struct {
	auth           Authenticator
	registry       *registry
	forwardTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*socketio.Conn
}

// NewHub creates a hub with an optional authenticator.
func NewHub(auth Authenticator) *Hub {
	return &Hub{
		auth:           auth,
		registry:       newRegistry(),
		forwardTimeout: defaultForwardTimeout,
		conns:          make(map[string]*socketio.Conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil {
		if err := h.auth(r); err != nil {
			logging.Info("Hub", "refusing connection from %s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication refused", http.StatusForbidden)
			return
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logging.Debug("Hub", "websocket accept failed: %v", err)
		return
	}

	sid := uuid.NewString()
	h.registry.add(sid)

	conn := socketio.NewConn(r.Context(), ws, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		return h.dispatch(ctx, sid, event, data)
	})

	h.mu.Lock()
	h.conns[sid] = conn
	h.mu.Unlock()

	logging.Debug("Hub", "connection %s established", sid)

	<-conn.Done()
	h.handleDisconnect(sid)
}

// SessionCount reports the number of live connections.
func (h *Hub) SessionCount() int {
	return h.registry.count()
}

// Stats are the hub's connection counts. Sessions that have not joined yet
// count toward Total only.
type Stats struct {
	Total     int
	Agents    int
	Computers int
}

// Stats returns a snapshot of the connection counts.
func (h *Hub) Stats() Stats {
	return h.registry.stats()
}

// OfficeMembers returns the sessions currently in an office, in join order.
func (h *Hub) OfficeMembers(officeID string) []Session {
	return h.registry.inOffice(officeID)
}

func (h *Hub) connFor(sid string) (*socketio.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[sid]
	return conn, ok
}

func (h *Hub) handleDisconnect(sid string) {
	h.mu.Lock()
	delete(h.conns, sid)
	h.mu.Unlock()

	session, ok := h.registry.remove(sid)
	if !ok {
		return
	}
	logging.Debug("Hub", "connection %s closed (%s %q)", sid, session.Role, session.Name)

	if session.OfficeID != "" {
		h.broadcastMove(context.Background(), smcp.NotifyLeaveOffice, session, session.OfficeID)
	}
}

func (h *Hub) dispatch(ctx context.Context, sid, event string, data json.RawMessage) (any, error) {
	switch {
	case event == smcp.EventJoinOffice:
		return nil, h.joinOffice(ctx, sid, data)
	case event == smcp.EventLeaveOffice:
		return nil, h.leaveOffice(ctx, sid, data)
	case event == smcp.EventUpdateConfig:
		return nil, h.broadcastUpdate(ctx, sid, smcp.NotifyUpdateConfig, data)
	case event == smcp.EventUpdateToolList:
		return nil, h.broadcastUpdate(ctx, sid, smcp.NotifyUpdateToolList, data)
	case event == smcp.EventUpdateDesktop:
		return nil, h.broadcastUpdate(ctx, sid, smcp.NotifyUpdateDesktop, data)
	case event == smcp.EventCancelToolCall:
		return nil, h.broadcastCancel(ctx, sid, data)
	case event == smcp.EventListRoom:
		return h.listRoom(sid, data)
	case smcp.IsClientEvent(event):
		return h.forward(ctx, sid, event, data)
	default:
		return nil, fmt.Errorf("unsupported event %q", event)
	}
}

// joinOffice validates the payload and hands the decision to the registry,
// which applies every join rule and records membership atomically. The hub
// only broadcasts the resulting moves.
func (h *Hub) joinOffice(ctx context.Context, sid string, data json.RawMessage) error {
	var req smcp.EnterOfficeReq
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid join payload: %w", err)
	}
	if req.Role != smcp.RoleAgent && req.Role != smcp.RoleComputer {
		return fmt.Errorf("unknown role %q", req.Role)
	}
	if req.Name == "" || req.OfficeID == "" {
		return fmt.Errorf("name and office_id are required")
	}

	outcome, err := h.registry.join(sid, req.Role, req.Name, req.OfficeID)
	if err != nil {
		return err
	}
	if outcome.idempotent {
		return nil
	}

	// A computer switching rooms leaves the old one first.
	if outcome.left != nil {
		h.broadcastMove(ctx, smcp.NotifyLeaveOffice, *outcome.left, outcome.left.OfficeID)
	}

	logging.Info("Hub", "%s %q joined office %s", req.Role, req.Name, req.OfficeID)
	h.broadcastMove(ctx, smcp.NotifyEnterOffice, outcome.session, req.OfficeID)
	return nil
}

func (h *Hub) leaveOffice(ctx context.Context, sid string, data json.RawMessage) error {
	var req smcp.LeaveOfficeReq
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid leave payload: %w", err)
	}

	session, ok := h.registry.get(sid)
	if !ok || session.OfficeID == "" {
		return fmt.Errorf("not a member of any office")
	}
	if req.OfficeID != session.OfficeID {
		return fmt.Errorf("not a member of office %s", req.OfficeID)
	}

	h.performLeave(ctx, session)
	logging.Info("Hub", "%s %q left office %s", session.Role, session.Name, session.OfficeID)
	return nil
}

// performLeave broadcasts the departure, releases the name claim, and clears
// membership.
func (h *Hub) performLeave(ctx context.Context, session Session) {
	h.broadcastMove(ctx, smcp.NotifyLeaveOffice, session, session.OfficeID)
	h.registry.releaseName(nameKey(session.Role, session.OfficeID, session.Name), session.SID)
	h.registry.clearOffice(session.SID)
}

// broadcastMove emits an enter/leave notification to everyone in the office
// except the mover.
func (h *Hub) broadcastMove(ctx context.Context, event string, session Session, officeID string) {
	notification := smcp.OfficeNotification{OfficeID: officeID}
	switch session.Role {
	case smcp.RoleAgent:
		name := session.Name
		notification.Agent = &name
	case smcp.RoleComputer:
		name := session.Name
		notification.Computer = &name
	}
	h.broadcast(ctx, officeID, session.SID, event, notification)
}

// broadcastUpdate handles the three server:update_* events, all Computer
// originated, rebroadcast to the Computer's office.
func (h *Hub) broadcastUpdate(ctx context.Context, sid, notifyEvent string, data json.RawMessage) error {
	session, ok := h.registry.get(sid)
	if !ok || session.Role != smcp.RoleComputer {
		return fmt.Errorf("only computers may emit this event")
	}
	if session.OfficeID == "" {
		return fmt.Errorf("not a member of any office")
	}
	h.broadcast(ctx, session.OfficeID, sid, notifyEvent, data)
	return nil
}

func (h *Hub) broadcastCancel(ctx context.Context, sid string, data json.RawMessage) error {
	session, ok := h.registry.get(sid)
	if !ok || session.Role != smcp.RoleAgent {
		return fmt.Errorf("only agents may cancel tool calls")
	}
	if session.OfficeID == "" {
		return fmt.Errorf("not a member of any office")
	}
	h.broadcast(ctx, session.OfficeID, sid, smcp.NotifyCancelToolCall, data)
	return nil
}

// broadcast fans an event to every office member except excludeSID.
func (h *Hub) broadcast(ctx context.Context, officeID, excludeSID, event string, payload any) {
	for _, member := range h.registry.inOffice(officeID) {
		if member.SID == excludeSID {
			continue
		}
		conn, ok := h.connFor(member.SID)
		if !ok {
			continue
		}
		if err := conn.Emit(ctx, event, payload); err != nil {
			logging.Warn("Hub", "failed to deliver %s to %s: %v", event, member.SID, err)
		}
	}
}

// forward relays a client:* request to the target Computer in the Agent's
// office and returns the Computer's response as the Agent's ack.
func (h *Hub) forward(ctx context.Context, sid, event string, data json.RawMessage) (json.RawMessage, error) {
	session, ok := h.registry.get(sid)
	if !ok || session.Role != smcp.RoleAgent {
		return nil, fmt.Errorf("only agents may emit %s", event)
	}
	if session.OfficeID == "" {
		return nil, fmt.Errorf("not a member of any office")
	}

	var target struct {
		Computer string `json:"computer"`
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", event, err)
	}
	if target.Computer == "" {
		return nil, fmt.Errorf("computer is required for %s", event)
	}

	computer, present := h.registry.computerIn(session.OfficeID, target.Computer)
	if !present {
		return nil, fmt.Errorf("computer %s not found in office %s", target.Computer, session.OfficeID)
	}
	conn, ok := h.connFor(computer.SID)
	if !ok {
		return nil, fmt.Errorf("computer %s not found in office %s", target.Computer, session.OfficeID)
	}

	forwardCtx, cancel := context.WithTimeout(ctx, h.forwardDeadline(event, data))
	defer cancel()

	response, err := conn.Request(forwardCtx, event, data)
	if err != nil {
		return nil, fmt.Errorf("forwarding %s to %s: %w", event, target.Computer, err)
	}
	return response, nil
}

// forwardDeadline caps a forwarded request. Tool calls honor the per-call
// timeout the Agent asked for, with slack so the Computer's own structured
// timeout result can still travel back; everything else gets the default.
func (h *Hub) forwardDeadline(event string, data json.RawMessage) time.Duration {
	if event != smcp.EventToolCall {
		return h.forwardTimeout
	}
	var call struct {
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(data, &call); err != nil || call.Timeout <= 0 {
		return h.forwardTimeout
	}
	requested := time.Duration(call.Timeout*float64(time.Second)) + 5*time.Second
	if requested < h.forwardTimeout {
		return h.forwardTimeout
	}
	return requested
}

// listRoom enumerates the requester's own office. Sessions that never
// joined with a known role are excluded.
func (h *Hub) listRoom(sid string, data json.RawMessage) (*smcp.ListRoomRet, error) {
	var req smcp.ListRoomReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid list_room payload: %w", err)
	}

	session, ok := h.registry.get(sid)
	if !ok || session.Role != smcp.RoleAgent {
		return nil, fmt.Errorf("only agents may list rooms")
	}
	if session.OfficeID == "" || req.OfficeID != session.OfficeID {
		return nil, fmt.Errorf("may only list own office")
	}

	ret := &smcp.ListRoomRet{ReqID: req.ReqID, Sessions: []smcp.RoomSession{}}
	for _, member := range h.registry.inOffice(session.OfficeID) {
		if member.Role != smcp.RoleAgent && member.Role != smcp.RoleComputer {
			continue
		}
		ret.Sessions = append(ret.Sessions, smcp.RoomSession{
			SID:      member.SID,
			Name:     member.Name,
			Role:     member.Role,
			OfficeID: member.OfficeID,
		})
	}
	return ret, nil
}
