package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/ingest"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/store"
	"github.com/lin-1259/ai-xiutu/internal/task"
)

// JobService is the scheduler surface used by the job handlers.
type JobService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*domain.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Query(ctx context.Context, filter store.JobFilter) ([]*domain.Job, error)
	Stats(ctx context.Context) (task.Stats, error)
	Pause(ctx context.Context, id uuid.UUID) (bool, error)
	Resume(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ClearTerminal(ctx context.Context) ([]uuid.UUID, error)
	SetConcurrency(ctx context.Context, n int) (int, error)
}

// ImageStager stores uploaded source images.
type ImageStager interface {
	Stage(ctx context.Context, data []byte) (domain.ImageRef, error)
}

// TemplateLister lists available templates.
type TemplateLister interface {
	List() []domain.Template
}

// ProviderRegistry is the provider management surface of the dispatcher.
type ProviderRegistry interface {
	List() []provider.Config
	Current() string
	AddCustomProvider(cfg provider.Config) error
	UpdateProviderConfig(id string, cfg provider.Config) error
	RemoveCustomProvider(id string) error
	SetCurrent(id string) error
}

// CacheService exposes result cache statistics and clearing.
type CacheService interface {
	Stats() cache.Stats
	Clear() error
}

// HotFolder controls the ingestion watcher.
type HotFolder interface {
	Status() ingest.Status
	Start() error
	Stop()
	ProcessDirectory(ctx context.Context, dir string) (int, error)
}

// EventSource streams job events.
type EventSource interface {
	Subscribe(buffer int) (<-chan *events.JobEvent, func())
}
