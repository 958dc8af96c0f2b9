package controller

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notifq/notifq/app/dto"
	"github.com/notifq/notifq/app/queue"
)

// DefaultChannel tags messages published through the channel endpoint when
// the request names none.
const DefaultChannel = "channel1"

type PublishController struct {
	client queue.Client
}

// NewPublishController constructs the HTTP publish controller.
func NewPublishController(client queue.Client) *PublishController {
	return &PublishController{client: client}
}

// Publish validates and enqueues one message without a channel tag.
func (c *PublishController) Publish(ctx echo.Context) error {
	return c.publish(ctx, "")
}

// PublishChannel validates and enqueues one message tagged with a channel.
func (c *PublishController) PublishChannel(ctx echo.Context) error {
	req, err := dto.FromEchoContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	channel := req.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	return c.enqueue(ctx, req, channel)
}

func (c *PublishController) publish(ctx echo.Context, channel string) error {
	req, err := dto.FromEchoContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.enqueue(ctx, req, channel)
}

func (c *PublishController) enqueue(ctx echo.Context, req dto.PublishRequest, channel string) error {
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	content, err := queue.EncodePayload(queue.DeliveryPayload{
		Destination: req.Email,
		Body:        req.Message,
	})
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	id, err := c.client.Enqueue(ctx.Request().Context(), content, channel)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to queue message"})
	}

	message := "message queued"
	if channel != "" {
		message = fmt.Sprintf("message queued on channel %s", channel)
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"message": message,
		"id":      id,
	})
}

// Stats returns queue metadata as JSON.
func (c *PublishController) Stats(ctx echo.Context) error {
	meta, err := c.client.Metadata(ctx.Request().Context())
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read queue metadata"})
	}

	created := ""
	if !meta.CreatedAt.IsZero() {
		created = meta.CreatedAt.Format(time.RFC3339)
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"name":    meta.DisplayName,
		"state":   meta.LifecycleState,
		"created": created,
	})
}
