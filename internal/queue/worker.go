package queue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/maheshrc27/postflow/internal/service"
)

// HandlePublishTask runs one publish cycle. Outcome-driven retries are
// re-enqueued here with the orchestrator's delay ladder and the handler
// returns nil, so asynq's own retry never stacks on top of ours. Errors are
// only returned for infrastructure failures where re-delivery of the same
// task is the right recovery.
func (q *Queue) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	result, err := q.publisher.Publish(ctx, payload.PostID)
	if err != nil {
		if result != nil && result.Done {
			// Fatal publish error: recorded on the post, nothing to redo.
			log.Printf("Publish failed permanently: post %d: %v", payload.PostID, err)
			return nil
		}
		return err
	}

	if result.RetryIn > 0 {
		return EnqueuePublish(q.client, payload, result.RetryIn)
	}
	return nil
}

// HandleSlideshowTask runs one conversion attempt, carrying the attempt
// counter through the payload.
func (q *Queue) HandleSlideshowTask(ctx context.Context, task *asynq.Task) error {
	var payload ConvertSlideshowPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	result, err := q.slideshow.Convert(ctx, payload.PostID, payload.Attempt)
	if err != nil {
		if service.IsFatal(err) || (result != nil && result.Done) {
			log.Printf("Slideshow conversion failed permanently: post %d: %v", payload.PostID, err)
			return nil
		}
		return err
	}

	if result.RetryIn > 0 {
		return EnqueueSlideshow(q.client, ConvertSlideshowPayload{
			PostID:  payload.PostID,
			Attempt: payload.Attempt + 1,
		}, result.RetryIn)
	}
	return nil
}
