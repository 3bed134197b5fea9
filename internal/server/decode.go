package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

// bindJSON decodes the request body into dst and validates it. Malformed
// bodies become a BodyParseError; failed validation becomes a 400 APIError.
func bindJSON(c *gin.Context, dst any) error {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &BodyParseError{Err: errors.New("request body is empty")}
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &BodyParseError{Err: err}
		}
		return err
	}
	if err := protocol.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return newAPIError(http.StatusBadRequest, "invalid field: "+verrs[0].Field())
		}
		return newAPIError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createChatRequest struct {
	Name           string   `json:"name" validate:"max=128"`
	IsGroup        *bool    `json:"isGroup"`
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}
