package decision

import (
	"context"
	"time"

	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const decisionRecordStreamMaxAge = 7 * 24 * time.Hour

// RecordPublisher fans decision records out on decision_record.<SYMBOL>.
type RecordPublisher struct {
	js     nats.JetStreamContext
	logger logrus.FieldLogger
}

func NewRecordPublisher(js nats.JetStreamContext, logger logrus.FieldLogger) *RecordPublisher {
	return &RecordPublisher{js: js, logger: util.LoggerOrDefault(logger)}
}

func (p *RecordPublisher) JetstreamEventInit(ctx context.Context) error {
	return ensureStream(ctx, p.js, &nats.StreamConfig{
		Name:      constant.DecisionRecordStreamName,
		Subjects:  []string{constant.DecisionRecordStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    decisionRecordStreamMaxAge,
		Replicas:  1,
	}, p.logger)
}

func (p *RecordPublisher) Publish(ctx context.Context, record *entity.DecisionRecord) error {
	return util.PublishEvent(ctx, p.js, constant.GetDecisionRecordSubject(record.Symbol), record)
}
