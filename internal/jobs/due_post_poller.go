package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
)

// Poll window: posts due within the next 5 minutes are picked up early,
// posts overdue by more than an hour are left alone as stale.
const (
	pollForward  = 5 * time.Minute
	pollBackward = time.Hour
)

// DuePostPoller moves scheduled posts whose time has come into the publish
// queue. The scheduled->pending transition is the claim: a post two poller
// runs both see is enqueued exactly once, because only one transition wins.
type DuePostPoller struct {
	posts   repository.PostRepository
	enqueue func(payload queue.PublishPostPayload, delay time.Duration) error
}

func NewDuePostPoller(posts repository.PostRepository, client *asynq.Client) *DuePostPoller {
	return &DuePostPoller{
		posts: posts,
		enqueue: func(payload queue.PublishPostPayload, delay time.Duration) error {
			return queue.EnqueuePublish(client, payload, delay)
		},
	}
}

func (p *DuePostPoller) PollDuePosts() {
	ctx := context.Background()

	if _, err := p.Poll(ctx, time.Now()); err != nil {
		slog.Info(err.Error())
	}
}

// Poll runs one sweep and reports how many posts were enqueued.
func (p *DuePostPoller) Poll(ctx context.Context, now time.Time) (int, error) {
	due, err := p.posts.ListDue(ctx, now, pollForward, pollBackward)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, post := range due {
		claimed, err := p.posts.TransitionStatus(ctx, post.ID, models.PostStatusScheduled, models.PostStatusPending)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !claimed {
			continue
		}

		if err := p.enqueue(queue.PublishPostPayload{PostID: post.ID}, 0); err != nil {
			slog.Info("enqueue failed, releasing claim", "post_id", post.ID, "error", err.Error())
			// Put the post back so the next sweep retries the enqueue.
			if _, revertErr := p.posts.TransitionStatus(ctx, post.ID, models.PostStatusPending, models.PostStatusScheduled); revertErr != nil {
				slog.Info(revertErr.Error())
			}
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		slog.Info("due post sweep", "due", len(due), "enqueued", enqueued)
	}
	return enqueued, nil
}
