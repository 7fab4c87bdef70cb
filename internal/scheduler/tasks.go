package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskSLAScan = "sla.scan"

const TaskLeadImportBatch = "leads.import.batch"

type SLAScanPayload struct {
	AsOf time.Time `json:"asOf"`
}

type LeadImportBatchPayload struct {
	ImportID string `json:"importId"`
	TeamID   string `json:"teamId"`
}

func NewSLAScanTask(payload SLAScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLAScan, data), nil
}

func ParseSLAScanPayload(task *asynq.Task) (SLAScanPayload, error) {
	var payload SLAScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SLAScanPayload{}, err
	}
	return payload, nil
}

func NewLeadImportBatchTask(payload LeadImportBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadImportBatch, data), nil
}

func ParseLeadImportBatchPayload(task *asynq.Task) (LeadImportBatchPayload, error) {
	var payload LeadImportBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadImportBatchPayload{}, err
	}
	return payload, nil
}
