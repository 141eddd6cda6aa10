// Package autoreply decides whether an inbound customer message gets an
// automated response and produces that response through a queue-backed
// worker pool.
package autoreply

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the transport between the policy half of the pipeline and the
// reply workers. In-process it is a channel; across processes it is SQS.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// ReplyJob is the unit of work a reply worker consumes. Phone is already
// canonicalized; PhotoPath is empty when the triggering message carried no
// image.
type ReplyJob struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	MessageText string    `json:"message_text"`
	PhotoPath   string    `json:"photo_path,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

func encodeJob(job ReplyJob) (ReplyJob, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return ReplyJob{}, "", fmt.Errorf("autoreply: failed to encode job: %w", err)
	}
	return job, string(body), nil
}
