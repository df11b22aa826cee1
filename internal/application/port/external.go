package port

import (
	"context"
	"io"
	"time"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

// Message is a human-facing notification about a workflow instance
type Message struct {
	Title      string
	Body       string
	FlowKey    string
	InstanceID int64
}

// Notifier delivers messages to users identified by their numeric id
type Notifier interface {
	Notify(ctx context.Context, userIDs []int64, msg Message) error
}

// Summarizer produces a short human-readable digest of an instance's business params
type Summarizer interface {
	Summarize(ctx context.Context, flowName string, params entity.Params) (string, error)
}

// ReportExporter writes instance listings as a spreadsheet
type ReportExporter interface {
	ExportInstances(ctx context.Context, w io.Writer, instances []*entity.WorkflowInstance) error
}

// Locker grants short exclusive leases across service replicas
type Locker interface {
	// TryLock acquires key for ttl; ok is false when someone else holds it
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
