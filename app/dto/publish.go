package dto

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrMissingFields = errors.New("email and message are required")
	ErrInvalidEmail  = errors.New("email must be a valid address")
)

type PublishRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// FromEchoContext binds and normalizes a publish request from Echo.
func FromEchoContext(ctx echo.Context) (PublishRequest, error) {
	var req PublishRequest
	if err := ctx.Bind(&req); err != nil {
		return PublishRequest{}, err
	}
	req.normalize()
	return req, nil
}

// Validate checks required fields and the destination address format.
func (r *PublishRequest) Validate() error {
	if r.Email == "" || r.Message == "" {
		return ErrMissingFields
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// normalize trims whitespace for all fields.
func (r *PublishRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Message = strings.TrimSpace(r.Message)
	r.Channel = strings.TrimSpace(r.Channel)
}
