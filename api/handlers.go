package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklight/domain"
	"tasklight/stream"
)

const maxImageSize = 5 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, core TaskLifecycle, auth Authenticator, hub *stream.Hub, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(core, auth, logger))
	e.POST("/api/tasks", createTask(core, auth))
	e.PUT("/api/tasks/:id", updateTask(core, auth))
	e.DELETE("/api/tasks/:id", deleteTask(core, auth))
	e.GET("/stream", streamTasks(core, auth, hub))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type taskResponse struct {
	Task    domain.Task `json:"task"`
	Warning string      `json:"warning,omitempty"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(core TaskLifecycle, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		sess, authErr := auth.SessionFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := core.List(ctx, sess)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(core TaskLifecycle, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := auth.SessionFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		image, err := imageFromForm(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		draft := domain.TaskDraft{
			Title:       c.FormValue("title"),
			Description: c.FormValue("description"),
			Image:       image,
		}

		task, err := core.Create(c.Request().Context(), sess, draft)
		if err != nil && errors.Is(err, domain.ErrArtifactAttach) {
			// The base task was created; report it with the attach warning.
			return c.JSON(http.StatusCreated, taskResponse{Task: *task, Warning: err.Error()})
		}
		if err != nil {
			return taskError(c, err)
		}
		return c.JSON(http.StatusCreated, taskResponse{Task: *task})
	}
}

func updateTask(core TaskLifecycle, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := auth.SessionFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		image, err := imageFromForm(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		changes := domain.TaskChanges{
			Title:       c.FormValue("title"),
			Description: c.FormValue("description"),
			Image:       image,
		}

		task, err := core.Update(c.Request().Context(), sess, c.Param("id"), changes)
		if err != nil && errors.Is(err, domain.ErrArtifactAttach) {
			return c.JSON(http.StatusOK, taskResponse{Task: *task, Warning: err.Error()})
		}
		if err != nil {
			return taskError(c, err)
		}
		return c.JSON(http.StatusOK, taskResponse{Task: *task})
	}
}

func deleteTask(core TaskLifecycle, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := auth.SessionFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := core.Delete(c.Request().Context(), sess, c.Param("id")); err != nil {
			return taskError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// taskError maps lifecycle errors onto HTTP statuses. Anything that is not
// part of the taxonomy is treated as invalid input.
func taskError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return c.String(http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrTaskNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrCreateFailed),
		errors.Is(err, domain.ErrUpdateFailed),
		errors.Is(err, domain.ErrDeleteFailed):
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	default:
		return c.String(http.StatusBadRequest, err.Error())
	}
}

// imageFromForm reads the optional image attachment from the multipart
// form. Returns nil when no file was sent; a body that fails to parse as
// multipart is the caller's error and is surfaced.
func imageFromForm(c echo.Context) (*domain.ImageUpload, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Size > maxImageSize {
		return nil, errors.New("image too large")
	}
	return readImage(fh)
}

func readImage(fh *multipart.FileHeader) (*domain.ImageUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageSize))
	if err != nil {
		return nil, err
	}
	return &domain.ImageUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
