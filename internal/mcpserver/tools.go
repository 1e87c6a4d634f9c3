package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/butlerhub/switchboard/internal/mcp"
	"github.com/butlerhub/switchboard/internal/scheduler"
	"github.com/butlerhub/switchboard/internal/store"
)

func (s *Server) toolStateGet(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode state.get args: %w", err)
	}
	value, found, err := s.Store.StateGet(ctx, s.Butler, in.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		return mcp.TextResult(map[string]interface{}{"found": false})
	}
	var decoded interface{}
	if err := json.Unmarshal(value, &decoded); err != nil {
		decoded = string(value)
	}
	return mcp.TextResult(map[string]interface{}{"found": true, "value": decoded})
}

func (s *Server) toolStateSet(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode state.set args: %w", err)
	}
	if err := s.Store.StateSet(ctx, s.Butler, in.Key, in.Value); err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolStateDelete(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode state.delete args: %w", err)
	}
	if err := s.Store.StateDelete(ctx, s.Butler, in.Key); err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolStateList(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Prefix string `json:"prefix"`
	}
	_ = json.Unmarshal(args, &in)
	keys, err := s.Store.StateList(ctx, s.Butler, in.Prefix)
	if err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"keys": keys})
}

func (s *Server) toolScheduleCreate(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Name         string          `json:"name"`
		Spec         string          `json:"spec"`
		DispatchMode string          `json:"dispatch_mode"`
		Prompt       string          `json:"prompt,omitempty"`
		JobName      string          `json:"job,omitempty"`
		JobArgs      json.RawMessage `json:"job_args,omitempty"`
		UntilAt      *time.Time      `json:"until_at,omitempty"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode schedule.create args: %w", err)
	}
	if _, err := scheduler.ParseSpec(in.Spec); err != nil {
		return nil, fmt.Errorf("invalid schedule spec: %w", err)
	}
	id, err := scheduler.NewTaskID()
	if err != nil {
		return nil, err
	}
	sched, _ := scheduler.ParseSpec(in.Spec)
	next := sched.Next(time.Now())

	task := store.ScheduledTask{
		ID:           id,
		Name:         in.Name,
		Spec:         in.Spec,
		DispatchMode: store.DispatchMode(in.DispatchMode),
		Enabled:      true,
	}
	if in.Prompt != "" {
		task.Prompt = sql.NullString{String: in.Prompt, Valid: true}
	}
	if in.JobName != "" {
		task.JobName = sql.NullString{String: in.JobName, Valid: true}
	}
	task.JobArgs = in.JobArgs
	if !next.IsZero() {
		task.NextRunAt = sql.NullTime{Time: next, Valid: true}
	}
	if in.UntilAt != nil {
		task.UntilAt = sql.NullTime{Time: *in.UntilAt, Valid: true}
	}

	if err := s.Store.CreateScheduledTask(ctx, s.Butler, task); err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"ok": true, "id": id, "next_run_at": next})
}

func (s *Server) toolScheduleDelete(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode schedule.delete args: %w", err)
	}
	if err := s.Store.DeleteScheduledTask(ctx, s.Butler, in.Name); err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolScheduleList(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
	tasks, err := s.Store.ListScheduledTasks(ctx, s.Butler)
	if err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"tasks": tasks})
}

func (s *Server) toolTrigger(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Prompt        string `json:"prompt"`
		TriggerSource string `json:"trigger_source"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode trigger args: %w", err)
	}
	if in.TriggerSource == "" {
		in.TriggerSource = "mcp"
	}
	if s.Dispatch == nil {
		return nil, fmt.Errorf("no dispatcher configured for butler %s", s.Butler)
	}
	if err := s.Dispatch.Enqueue(ctx, s.Butler, in.TriggerSource, in.Prompt); err != nil {
		return nil, err
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolTick(ctx context.Context) (*mcp.CallToolResult, error) {
	if s.Scheduler != nil {
		if err := s.Scheduler.Tick(ctx); err != nil {
			return nil, err
		}
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolNotify(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Channel        string          `json:"channel"`
		Message        string          `json:"message"`
		Intent         string          `json:"intent"`
		RequestContext json.RawMessage `json:"request_context,omitempty"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode notify args: %w", err)
	}
	switch in.Intent {
	case "send", "reply", "react", "proactive":
	default:
		return nil, fmt.Errorf("invalid intent %q", in.Intent)
	}

	status := "sent"
	var deliveryErr error
	if s.Notify != nil {
		deliveryErr = s.Notify.Notify(ctx, s.Butler, in.Channel, in.Message, in.Intent, in.RequestContext)
		if deliveryErr != nil {
			status = "failed"
		}
	} else {
		status = "failed"
		deliveryErr = fmt.Errorf("no notifier configured")
	}

	if _, err := s.Audit.RecordNotification(ctx, s.Butler, in.Channel, in.Message, in.Intent, status, deliveryErr); err != nil {
		return nil, fmt.Errorf("record notification: %w", err)
	}

	if deliveryErr != nil {
		return mcp.TextResult(map[string]interface{}{"ok": false, "error": deliveryErr.Error()})
	}
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func (s *Server) toolRoute(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	if s.Router == nil {
		return nil, fmt.Errorf("%w: route is switchboard-only", errNotPermitted)
	}
	var in struct {
		Butler string          `json:"butler"`
		Tool   string          `json:"tool"`
		Args   json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode route args: %w", err)
	}
	return s.Router.Route(ctx, s.Butler, in.Butler, in.Tool, in.Args)
}
