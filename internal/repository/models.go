package repository

import (
	"encoding/json"
	"time"

	"github.com/yz4230/deployhost/internal/entity"
	"gorm.io/datatypes"
)

type Deployment struct {
	ID           string `gorm:"primaryKey"`
	Instructions string
	Repo         string
	Region       string
	TemplateDir  string
	Vars         datatypes.JSONMap
	Tags         datatypes.JSONMap
	Status       string `gorm:"index"`
	Outputs      datatypes.JSONMap
	Error        string
	FailureKind  string
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (d *Deployment) ToEntity() *entity.Deployment {
	return &entity.Deployment{
		ID: entity.ID(d.ID),
		Parameters: entity.Parameters{
			Instructions: d.Instructions,
			Repo:         d.Repo,
			Region:       d.Region,
			TemplateDir:  d.TemplateDir,
			Vars:         nilIfEmpty(d.Vars),
			Tags:         toStringMap(d.Tags),
		},
		Status:      entity.DeploymentStatus(d.Status),
		Outputs:     nilIfEmpty(d.Outputs),
		Error:       d.Error,
		FailureKind: entity.FailureKind(d.FailureKind),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (d *Deployment) FromEntity(e *entity.Deployment) {
	d.ID = e.ID.String()
	d.Instructions = e.Parameters.Instructions
	d.Repo = e.Parameters.Repo
	d.Region = e.Parameters.Region
	d.TemplateDir = e.Parameters.TemplateDir
	d.Vars = datatypes.JSONMap(e.Parameters.Vars)
	d.Tags = fromStringMap(e.Parameters.Tags)
	d.Status = string(e.Status)
	d.Outputs = datatypes.JSONMap(e.Outputs)
	d.Error = e.Error
	d.FailureKind = string(e.FailureKind)
	d.CreatedAt = e.CreatedAt
	d.UpdatedAt = e.UpdatedAt
}

type Event struct {
	ID           uint   `gorm:"primaryKey"`
	DeploymentID string `gorm:"uniqueIndex:idx_events_deployment_seq;not null"`
	Sequence     int64  `gorm:"uniqueIndex:idx_events_deployment_seq;not null"`
	Kind         string `gorm:"not null"`
	Payload      datatypes.JSON
	Timestamp    time.Time
}

func (e *Event) ToEntity() *entity.Event {
	return &entity.Event{
		DeploymentID: entity.ID(e.DeploymentID),
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Kind:         entity.EventKind(e.Kind),
		Payload:      json.RawMessage(e.Payload),
	}
}

func (e *Event) FromEntity(ev *entity.Event) {
	e.DeploymentID = ev.DeploymentID.String()
	e.Sequence = ev.Sequence
	e.Timestamp = ev.Timestamp
	e.Kind = string(ev.Kind)
	e.Payload = datatypes.JSON(ev.Payload)
}

// nilIfEmpty undoes the empty map a NULL JSON column scans into.
func nilIfEmpty(m datatypes.JSONMap) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return map[string]any(m)
}

func toStringMap(m datatypes.JSONMap) map[string]string {
	if len(m) == 0 {
		return nil
	}
	res := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			res[k] = s
		}
	}
	return res
}

func fromStringMap(m map[string]string) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	res := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
