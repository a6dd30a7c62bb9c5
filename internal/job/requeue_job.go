package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/service"
)

const requeueBatch = 50

// RequeueJob resubmits pending sources that never made it onto the work
// queue, typically after a restart or a full buffer.
type RequeueJob struct {
	ingest *service.IngestService
}

func NewRequeueJob(ingest *service.IngestService) *RequeueJob {
	return &RequeueJob{ingest: ingest}
}

func (j *RequeueJob) Name() string {
	return "ingestion-requeue"
}

func (j *RequeueJob) Run(ctx context.Context) error {
	count, err := j.ingest.Requeue(ctx, requeueBatch)
	if err != nil {
		return err
	}
	if count > 0 {
		logutil.GetLogger(ctx).Info("requeued pending sources", zap.Int("count", count))
	}
	return nil
}
