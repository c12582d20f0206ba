package server

import (
	"github.com/EricHayter/qnx-rpm-server/creds"
	"github.com/EricHayter/qnx-rpm-server/model"
	"github.com/EricHayter/qnx-rpm-server/probe"
)

// wireRequest is the union of every command's parameters. Pointer fields
// distinguish "absent" from "present with a zero value" so a missing
// required field produces the JsonError reply the error-reply contract calls for,
// rather than silently treating pid:0 as a request for PID 0.
type wireRequest struct {
	Command     string  `json:"command"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	PID         *int32  `json:"pid"`
	Name        *string `json:"name"`
	Priority    *int32  `json:"priority"`
	Policy      *int32  `json:"policy"`
	Description *string `json:"description"`
	GroupID     *int32  `json:"group_id"`
	ID          *int32  `json:"id"`
}

type payload = map[string]any

func errorReply(command, message string) payload {
	return payload{"command": command, "status": "error", "message": message}
}

func successReply(command string, fields payload) payload {
	out := payload{"command": command, "status": "success"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// adminCommands names the commands that need Admin; knownCommands lists
// every accepted command. Login needs no role; every other known command
// needs at least Viewer, and the control/mutation commands need Admin.
var adminCommands = map[string]bool{
	"SuspendProcess":   true,
	"ResumeProcess":    true,
	"TerminateProcess": true,
	"CreateGroup":      true,
	"DeleteGroup":      true,
	"AddToGroup":       true,
	"SetPriority":      true,
}

var knownCommands = map[string]bool{
	"Login":                     true,
	"GetProcesses":              true,
	"GetSimpleProcessDetails":   true,
	"GetDetailedProcessDetails": true,
	"SuspendProcess":            true,
	"ResumeProcess":             true,
	"TerminateProcess":          true,
	"GetGroups":                 true,
	"CreateGroup":               true,
	"DeleteGroup":               true,
	"AddToGroup":                true,
	"SetPriority":               true,
}

func (s *Session) dispatch(req wireRequest) payload {
	if req.Command == "" {
		return errorReply("error", "invalid request")
	}
	if !knownCommands[req.Command] {
		return errorReply(req.Command, "invalid request")
	}

	if req.Command == "Login" {
		return s.handleLogin(req)
	}

	if !s.authenticated {
		return errorReply(req.Command, "not authenticated")
	}
	if adminCommands[req.Command] && s.role != model.RoleAdmin {
		return errorReply(req.Command, "insufficient privilege")
	}

	switch req.Command {
	case "GetProcesses":
		return s.handleGetProcesses()
	case "GetSimpleProcessDetails":
		return s.handleGetSimpleProcessDetails(req)
	case "GetDetailedProcessDetails":
		return s.handleGetDetailedProcessDetails(req)
	case "SuspendProcess":
		return s.handleSignal(req, "SuspendProcess", probe.Suspend)
	case "ResumeProcess":
		return s.handleSignal(req, "ResumeProcess", probe.Resume)
	case "TerminateProcess":
		return s.handleSignal(req, "TerminateProcess", probe.Terminate)
	case "GetGroups":
		return s.handleGetGroups()
	case "CreateGroup":
		return s.handleCreateGroup(req)
	case "DeleteGroup":
		return s.handleDeleteGroup(req)
	case "AddToGroup":
		return s.handleAddToGroup(req)
	case "SetPriority":
		return s.handleSetPriority(req)
	default:
		return errorReply("error", "invalid request")
	}
}

func (s *Session) handleLogin(req wireRequest) payload {
	if req.Username == nil || req.Password == nil {
		return errorReply("Login", "missing username or password")
	}
	if s.loginLimiter != nil && !s.loginLimiter.Allow() {
		return errorReply("Login", "too many login attempts")
	}

	role, ok := creds.Validate(s.credsPath, *req.Username, *req.Password)
	if !ok {
		return payload{"command": "Login", "status": "success", "authenticated": false}
	}

	s.authenticated = true
	s.role = role
	return payload{"command": "Login", "status": "success", "authenticated": true, "role": role.String()}
}

func (s *Session) handleGetProcesses() payload {
	records := s.registry.SnapshotAll()
	pids := make([]int32, 0, len(records))
	for _, r := range records {
		pids = append(pids, r.PID)
	}
	return successReply("GetProcesses", payload{"pids": pids})
}

func (s *Session) handleGetSimpleProcessDetails(req wireRequest) payload {
	if req.PID == nil {
		return errorReply("GetSimpleProcessDetails", "missing pid")
	}
	rec, ok := s.registry.Get(*req.PID)
	if !ok {
		return errorReply("GetSimpleProcessDetails", "process not found")
	}
	uptimeMs, _ := s.registry.UptimeMs(*req.PID)
	return successReply("GetSimpleProcessDetails", payload{
		"pid":        rec.PID,
		"name":       rec.Name,
		"cpu_usage":  rec.CPUPercent,
		"ram_usage":  rec.MemoryBytes,
		"uptime_ms":  uptimeMs,
	})
}

func (s *Session) handleGetDetailedProcessDetails(req wireRequest) payload {
	if req.PID == nil {
		return errorReply("GetDetailedProcessDetails", "missing pid")
	}
	pid := *req.PID

	if rec, ok := s.registry.Get(pid); ok {
		s.history.Push(pid, rec.CPUPercent, rec.MemoryBytes)
	}

	entries := s.history.Get(pid)
	wire := make([]payload, 0, len(entries))
	for _, e := range entries {
		wire = append(wire, payload{
			"cpu_usage":     e.CPUPercent,
			"memory_usage":  e.MemoryBytes,
			"timestamp_ms":  e.TimestampMs(),
		})
	}
	return successReply("GetDetailedProcessDetails", payload{"pid": pid, "entries": wire})
}

func (s *Session) handleSignal(req wireRequest, command string, op func(int32) error) payload {
	if req.PID == nil {
		return errorReply(command, "missing pid")
	}
	err := op(*req.PID)
	if err == nil {
		return successReply(command, payload{"pid": *req.PID, "success": true})
	}
	switch err {
	case probe.ErrNotFound:
		return payload{"command": command, "status": "success", "pid": *req.PID, "success": false, "message": "process not found"}
	case probe.ErrPermissionDenied:
		return payload{"command": command, "status": "success", "pid": *req.PID, "success": false, "message": "permission denied"}
	default:
		return payload{"command": command, "status": "success", "pid": *req.PID, "success": false, "message": err.Error()}
	}
}

func (s *Session) handleGetGroups() payload {
	all := s.groups.List()
	wire := make([]payload, 0, len(all))
	for _, g := range all {
		wire = append(wire, payload{
			"id":            g.ID,
			"name":          g.Name,
			"priority":      g.Priority,
			"description":   g.Description,
			"members":       g.MemberPIDs(),
			"total_cpu":     g.TotalCPU,
			"total_memory":  g.TotalMemory,
		})
	}
	return successReply("GetGroups", payload{"groups": wire})
}

func (s *Session) handleCreateGroup(req wireRequest) payload {
	if req.Name == nil {
		return errorReply("CreateGroup", "missing name")
	}
	priority := int32(0)
	if req.Priority != nil {
		priority = *req.Priority
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	id := s.groups.CreateGroup(*req.Name, priority, description)
	return successReply("CreateGroup", payload{"id": id})
}

func (s *Session) handleDeleteGroup(req wireRequest) payload {
	if req.ID == nil {
		return errorReply("DeleteGroup", "missing id")
	}
	ok := s.groups.DeleteGroup(*req.ID)
	return successReply("DeleteGroup", payload{"success": ok})
}

func (s *Session) handleAddToGroup(req wireRequest) payload {
	if req.PID == nil || req.GroupID == nil {
		return errorReply("AddToGroup", "missing pid or group_id")
	}
	ok := s.groups.Add(*req.PID, *req.GroupID)
	return successReply("AddToGroup", payload{"success": ok})
}

func (s *Session) handleSetPriority(req wireRequest) payload {
	if req.PID == nil || req.Priority == nil {
		return errorReply("SetPriority", "missing pid or priority")
	}
	policy := int32(0)
	if req.Policy != nil {
		policy = *req.Policy
	}
	err := s.registry.AdjustPriority(*req.PID, *req.Priority, policy)
	if err == nil {
		return successReply("SetPriority", payload{"success": true})
	}
	return payload{"command": "SetPriority", "status": "success", "success": false, "message": err.Error()}
}
