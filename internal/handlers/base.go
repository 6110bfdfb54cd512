package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/tansy/pkg/context"
	"github.com/Ramsey-B/tansy/pkg/models"
)

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// ParseJobType parses and validates a job type path parameter
func ParseJobType(c echo.Context) (models.JobType, error) {
	jobType := models.JobType(c.Param("jobType"))
	if jobType == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing jobType")
	}
	if !jobType.Valid() {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown job type %q", jobType)
	}
	return jobType, nil
}

// GetActorID extracts the acting operator from the request context. Empty
// means the request carried no X-User-ID header.
func GetActorID(c echo.Context) string {
	return appctx.GetActorID(c.Request().Context())
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
