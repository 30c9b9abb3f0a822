package queue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePublish schedules a publish cycle for a post after the given delay.
// A zero delay runs it as soon as a worker is free.
func EnqueuePublish(asynqClient *asynq.Client, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	log.Printf("Publish task scheduled: post %d in %s", payload.PostID, delay)
	return nil
}

// EnqueueSlideshow schedules a slideshow conversion attempt.
func EnqueueSlideshow(asynqClient *asynq.Client, payload ConvertSlideshowPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeConvertSlideshow, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	log.Printf("Slideshow task scheduled: post %d attempt %d in %s", payload.PostID, payload.Attempt, delay)
	return nil
}
