// Package storage provides access to the remote collaborators: the task
// table, the change-feed queue, and the image artifact container.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"tasklight/domain"
)

const edmInt64 = "Edm.Int64"

// Storage provides access to the task table and the change-feed queue.
type Storage struct {
	taskTable   *aztables.Client
	changeQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, changeQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, changeQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable), changeQueue: cq}, nil
}

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	ImageURL      string `json:"ImageUrl"`
	ImagePath     string `json:"ImagePath"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type taskMerge struct {
	aztables.Entity
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	ImageURL      *string `json:"ImageUrl,omitempty"`
	ImagePath     *string `json:"ImagePath,omitempty"`
	UpdatedAt     *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

func entityFromTask(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: t.Owner, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if t.HasImage() {
		ent.ImageURL = *t.ImageURL
		ent.ImagePath = *t.ImagePath
	}
	return ent
}

func taskFromEntity(ent taskEntity) domain.Task {
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Owner:       ent.PartitionKey,
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, ent.UpdatedAt).UTC(),
	}
	if ent.ImagePath != "" {
		t.SetImage(ent.ImageURL, ent.ImagePath)
	}
	return t
}

// ownerFilter builds the partition scan filter. Single quotes in the owner
// key are doubled per the OData literal escaping rules, so an email like
// o'brien@example.com cannot break out of the string literal.
func ownerFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

// ListTasks retrieves all tasks for the owner, newest-first. The table
// returns rows in key order, so the listing is sorted here.
func (s *Storage) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := ownerFilter(owner)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, taskFromEntity(ent))
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

// GetTask retrieves one task, or nil when absent.
func (s *Storage) GetTask(ctx context.Context, owner, id string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	t := taskFromEntity(ent)
	return &t, nil
}

// InsertTask adds a new task row.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(entityFromTask(t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// MergeTask applies a partial update and returns the resulting row.
func (s *Storage) MergeTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (*domain.Task, error) {
	upd := taskMerge{
		Entity:      aztables.Entity{PartitionKey: owner, RowKey: id},
		Title:       patch.Title,
		Description: patch.Description,
		ImageURL:    patch.ImageURL,
		ImagePath:   patch.ImagePath,
	}
	if !patch.UpdatedAt.IsZero() {
		ts := patch.UpdatedAt.UnixNano()
		tsType := edmInt64
		upd.UpdatedAt = &ts
		upd.UpdatedAtType = &tsType
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, owner, id)
}

// DeleteTask removes the task row.
func (s *Storage) DeleteTask(ctx context.Context, owner, id string) error {
	et := azcore.ETagAny
	_, err := s.taskTable.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	return err
}

// PublishChange enqueues a committed change event on the feed queue.
func (s *Storage) PublishChange(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = s.changeQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueChange retrieves a single pending change event message, or nil
// when the queue is empty.
func (s *Storage) DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.changeQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteChange removes a relayed message from the feed queue.
func (s *Storage) DeleteChange(ctx context.Context, id, receipt string) error {
	_, err := s.changeQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
