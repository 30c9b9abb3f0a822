package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	publisher   service.PublisherService
	AsynqClient *asynq.Client
}

func NewPostHandler(service service.PostService, publisher service.PublisherService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: service, publisher: publisher, AsynqClient: asynqClient}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	pc := &transfer.PostCreation{
		Caption:          c.FormValue("caption"),
		Title:            c.FormValue("title"),
		PrivacyLevel:     c.FormValue("privacy_level", "public"),
		ScheduledTime:    c.FormValue("scheduling_time"),
		SelectedAccounts: c.FormValue("selected_accounts"),
		IsDraft:          c.FormValue("is_draft") == "true",
		IsSlideshow:      c.FormValue("is_slideshow") == "true",
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files selected",
		})
	}

	created, err := h.s.CreatePost(c.Context(), userID, pc, files)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if created.IsDraft {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Draft saved",
			"post_id": created.PostID,
		})
	}

	// Slideshows convert right away so the video is ready before the
	// scheduled publish time.
	if created.NeedsConversion {
		err = queue.EnqueueSlideshow(h.AsynqClient, queue.ConvertSlideshowPayload{PostID: created.PostID}, 0)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Error scheduling slideshow conversion",
			})
		}
	}

	// Immediate posts skip the poller. A slideshow still converting fails
	// its first publish attempt and comes back on the retry ladder.
	if created.Immediate {
		err = queue.EnqueuePublish(h.AsynqClient, queue.PublishPostPayload{PostID: created.PostID}, 0)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Error scheduling publish",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
		"post_id": created.PostID,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if postId != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postId), userId)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to get post",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// PostHistory returns the publish attempt audit trail for one post.
func (h *PostHandler) PostHistory(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	attempts, err := h.s.History(c.Context(), int64(postId), userID)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, service.ErrPostNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": "Unable to get post history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(attempts)
}

// RetryPost resets a failed post and enqueues a fresh publish cycle.
func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	err := h.publisher.Retry(c.Context(), userID, int64(postId))
	if err != nil {
		status := fiber.StatusBadRequest
		switch {
		case errors.Is(err, service.ErrPostNotFound):
			status = fiber.StatusNotFound
		case errors.Is(err, service.ErrAlreadyPublished):
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err = queue.EnqueuePublish(h.AsynqClient, queue.PublishPostPayload{PostID: int64(postId)}, 0)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error scheduling retry",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Retry scheduled",
	})
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userID, int64(postId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
