package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ProjectCreated  = "project.created"
	ProjectArchived = "project.archived"
	ProjectImported = "project.imported"
	StepStarted     = "step.started"
	StepCompleted   = "step.completed"
	StepFailed      = "step.failed"
	StepTimeout     = "step.timeout"
	StepInterrupted = "step.interrupted"
)

// SystemActor is recorded for transitions made by background pollers.
const SystemActor = "system"

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Record is a pending event row, collected during a mutation and written in its tx.
type Record struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	payload := rec.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := rec.ActorID
	if actor == "" {
		actor = SystemActor
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.Type, nullable(rec.ProjectID), rec.EntityKind, nullable(rec.EntityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
