package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-systems/faceaccess/internal/store"
)

// Command type strings, matching the wire protocol exactly.
const (
	CmdBeginUpsert  = "BEGIN_UPSERT"
	CmdPhotoChunk   = "PHOTO_CHUNK"
	CmdEndUpsert    = "END_UPSERT"
	CmdUpdatePeriod = "UPDATE_PERIOD"
	CmdDeactivate   = "DEACTIVATE"
	CmdDelete       = "DELETE"
	CmdGetStatus    = "GET_STATUS"
	CmdListEmployees = "LIST_EMPLOYEES"
	CmdGetAuditLogs = "GET_AUDIT_LOGS"
)

// Response type strings.
const (
	RespOK         = "OK"
	RespError      = "ERROR"
	RespStatus     = "STATUS"
	RespEmployees  = "EMPLOYEES"
	RespAuditLogs  = "AUDIT_LOGS"
	RespProgress   = "PROGRESS"
)

// EnrollmentProcessor runs the Pipeline-side decode/detect/quality/align/
// embed path over a completed upsert session's photos and persists the
// result. It returns the number of valid embeddings produced.
type EnrollmentProcessor func(ctx context.Context, session *UpsertSession) (int, error)

// Dispatcher routes framed, decoded JSON commands to Store operations and
// the enrollment pipeline, enforcing admin-mode and HMAC gating per
// command and owning the single in-flight upsert session.
type Dispatcher struct {
	store        *store.Store
	auth         *Authenticator
	adminEnabled bool
	maxPhotoSize int
	enroll       EnrollmentProcessor

	session *UpsertSession
}

func NewDispatcher(st *store.Store, auth *Authenticator, adminEnabled bool, maxPhotoSize int, enroll EnrollmentProcessor) *Dispatcher {
	return &Dispatcher{store: st, auth: auth, adminEnabled: adminEnabled, maxPhotoSize: maxPhotoSize, enroll: enroll}
}

// Dispatch decodes one payload as JSON and routes it. A nil response with
// a nil error means no notification is due (an intermediate PHOTO_CHUNK).
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) ([]byte, error) {
	var command map[string]any
	if err := json.Unmarshal(payload, &command); err != nil {
		return errorResponse(fmt.Sprintf("invalid JSON: %v", err)), nil
	}

	cmdType, _ := command["command"].(string)
	var resp map[string]any

	switch cmdType {
	case CmdBeginUpsert:
		resp = d.handleBeginUpsert(command)
	case CmdPhotoChunk:
		r, emit := d.handlePhotoChunk(command)
		if !emit {
			return nil, nil
		}
		resp = r
	case CmdEndUpsert:
		resp = d.handleEndUpsert(ctx, command)
	case CmdUpdatePeriod:
		resp = d.handleUpdatePeriod(ctx, command)
	case CmdDeactivate:
		resp = d.handleDeactivate(ctx, command)
	case CmdDelete:
		resp = d.handleDelete(ctx, command)
	case CmdGetStatus:
		resp = d.handleGetStatus(ctx)
	case CmdListEmployees:
		resp = d.handleListEmployees(ctx)
	case CmdGetAuditLogs:
		resp = d.handleGetAuditLogs(ctx, command)
	default:
		resp = errorMap(fmt.Sprintf("unknown command: %s", cmdType))
	}

	return marshalResponse(resp)
}

func (d *Dispatcher) checkAdmin(command map[string]any) map[string]any {
	if !d.adminEnabled {
		return errorMap("admin mode not enabled")
	}
	if err := d.auth.Verify(command); err != nil {
		return errorMap(fmt.Sprintf("HMAC verification failed: %v", err))
	}
	return nil
}

func (d *Dispatcher) handleBeginUpsert(command map[string]any) map[string]any {
	if errResp := d.checkAdmin(command); errResp != nil {
		return errResp
	}

	employeeID, _ := command["employee_id"].(string)
	displayName, _ := command["display_name"].(string)
	start, _ := command["access_start"].(string)
	end, _ := command["access_end"].(string)
	numPhotos := intField(command, "num_photos", 1)

	if employeeID == "" || start == "" || end == "" {
		return errorMap("missing required parameters")
	}
	if numPhotos < 1 || numPhotos > 5 {
		return errorMap("invalid num_photos (must be 1-5)")
	}

	d.session = NewUpsertSession(employeeID, displayName, start, end, numPhotos)
	return map[string]any{"type": RespOK, "message": fmt.Sprintf("Session started for %s", employeeID), "session_id": employeeID}
}

func (d *Dispatcher) handlePhotoChunk(command map[string]any) (map[string]any, bool) {
	if d.session == nil {
		return errorMap("no active session"), true
	}

	isLast, _ := command["is_last"].(bool)
	sha256Field, _ := command["sha256"].(string)
	dataField, _ := command["data"].(string)
	if dataField == "" {
		return errorMap("missing chunk data"), true
	}

	chunk, err := base64.StdEncoding.DecodeString(dataField)
	if err != nil {
		return errorMap(fmt.Sprintf("invalid base64: %v", err)), true
	}

	received, err := d.session.AddChunk(chunk, isLast, sha256Field, d.maxPhotoSize)
	if err != nil {
		return errorMap(err.Error()), true
	}
	if !isLast {
		return nil, false
	}

	return map[string]any{
		"type":           RespOK,
		"message":        fmt.Sprintf("Photo %d received", received),
		"photos_received": received,
		"photos_total":    d.session.NumPhotos,
	}, true
}

func (d *Dispatcher) handleEndUpsert(ctx context.Context, command map[string]any) map[string]any {
	session := d.session
	d.session = nil

	if session == nil {
		return errorMap("no active session")
	}
	if !session.ReadyToFinish() {
		return errorMap(fmt.Sprintf("Expected %d photos, got %d", session.NumPhotos, session.PhotosReceived))
	}

	n, err := d.enroll(ctx, session)
	if err != nil {
		return errorMap(err.Error())
	}
	if n == 0 {
		return errorMap("no valid embeddings")
	}
	return map[string]any{"type": RespOK, "message": fmt.Sprintf("Registered %s with %d embeddings", session.EmployeeID, n)}
}

func (d *Dispatcher) handleUpdatePeriod(ctx context.Context, command map[string]any) map[string]any {
	if errResp := d.checkAdmin(command); errResp != nil {
		return errResp
	}

	employeeID, _ := command["employee_id"].(string)
	start, _ := command["access_start"].(string)
	end, _ := command["access_end"].(string)
	if employeeID == "" || start == "" || end == "" {
		return errorMap("missing required parameters")
	}

	startT, err1 := time.Parse(time.RFC3339, start)
	endT, err2 := time.Parse(time.RFC3339, end)
	if err1 != nil || err2 != nil {
		return errorMap("invalid timestamp format")
	}

	changed, err := d.store.UpdateEmployeePeriod(ctx, employeeID, startT, endT)
	if err != nil {
		return errorMap(err.Error())
	}
	if !changed {
		return errorMap("employee not found")
	}
	return map[string]any{"type": RespOK, "message": fmt.Sprintf("Period updated for %s", employeeID)}
}

func (d *Dispatcher) handleDeactivate(ctx context.Context, command map[string]any) map[string]any {
	if errResp := d.checkAdmin(command); errResp != nil {
		return errResp
	}
	employeeID, _ := command["employee_id"].(string)
	if employeeID == "" {
		return errorMap("missing employee_id")
	}
	changed, err := d.store.DeactivateEmployee(ctx, employeeID)
	if err != nil {
		return errorMap(err.Error())
	}
	if !changed {
		return errorMap("employee not found")
	}
	return map[string]any{"type": RespOK, "message": fmt.Sprintf("Employee %s deactivated", employeeID)}
}

func (d *Dispatcher) handleDelete(ctx context.Context, command map[string]any) map[string]any {
	if errResp := d.checkAdmin(command); errResp != nil {
		return errResp
	}
	employeeID, _ := command["employee_id"].(string)
	if employeeID == "" {
		return errorMap("missing employee_id")
	}
	changed, err := d.store.DeleteEmployee(ctx, employeeID)
	if err != nil {
		return errorMap(err.Error())
	}
	if !changed {
		return errorMap("employee not found")
	}
	return map[string]any{"type": RespOK, "message": fmt.Sprintf("Employee %s deleted", employeeID)}
}

func (d *Dispatcher) handleGetStatus(ctx context.Context) map[string]any {
	status, err := d.store.GetSystemStatus(ctx)
	if err != nil {
		return errorMap(err.Error())
	}
	return map[string]any{"type": RespStatus, "data": status}
}

func (d *Dispatcher) handleListEmployees(ctx context.Context) map[string]any {
	employees, err := d.store.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		return errorMap(err.Error())
	}
	out := make([]map[string]any, 0, len(employees))
	for _, e := range employees {
		out = append(out, map[string]any{
			"employee_id":  e.Employee.ID,
			"display_name": e.Employee.DisplayName,
			"access_start": e.Employee.AccessStart.Format(time.RFC3339),
			"access_end":   e.Employee.AccessEnd.Format(time.RFC3339),
			"is_active":    e.Employee.Active,
			"embeddings":   len(e.Embeddings),
		})
	}
	return map[string]any{"type": RespEmployees, "data": out}
}

func (d *Dispatcher) handleGetAuditLogs(ctx context.Context, command map[string]any) map[string]any {
	limit := intField(command, "limit", 100)
	var employeeIDPtr *string
	if id, ok := command["employee_id"].(string); ok && id != "" {
		employeeIDPtr = &id
	}
	logs, err := d.store.GetAuditLogs(ctx, nil, nil, employeeIDPtr, limit)
	if err != nil {
		return errorMap(err.Error())
	}
	return map[string]any{"type": RespAuditLogs, "data": logs}
}

func intField(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func errorMap(message string) map[string]any {
	return map[string]any{"type": RespError, "message": message}
}

func errorResponse(message string) []byte {
	b, _ := json.Marshal(errorMap(message))
	return b
}

func marshalResponse(resp map[string]any) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}
