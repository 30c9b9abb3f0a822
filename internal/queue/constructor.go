package queue

import (
	"github.com/hibiken/asynq"

	"github.com/maheshrc27/postflow/internal/service"
)

const (
	TaskTypePublishPost      = "publish:post"
	TaskTypeConvertSlideshow = "slideshow:convert"
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

type ConvertSlideshowPayload struct {
	PostID int64 `json:"post_id"`
	// Attempt is the zero-based conversion attempt this task represents.
	Attempt int `json:"attempt"`
}

// Queue owns the worker-side handlers. Retry scheduling goes through the
// same client the API uses, so a failed cycle re-enters the queue with the
// orchestrator's delay instead of asynq's own backoff.
type Queue struct {
	client    *asynq.Client
	publisher service.PublisherService
	slideshow service.SlideshowService
}

func NewQueue(client *asynq.Client, publisher service.PublisherService, slideshow service.SlideshowService) *Queue {
	return &Queue{
		client:    client,
		publisher: publisher,
		slideshow: slideshow,
	}
}
