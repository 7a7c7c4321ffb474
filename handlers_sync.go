// voxmail/handlers_sync.go

package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"voxmail/internal/dispatch"
	"voxmail/internal/logging"
	"voxmail/internal/store"
)

func (app *App) backfillHandler(c echo.Context) error {
	var req backfillRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.GrantID == "" {
		req.GrantID = app.Config.MailGrantID
	}
	if req.GrantID == "" {
		return respondError(c, http.StatusBadRequest, errors.New("grantId is required"))
	}

	rec, err := app.Dispatcher.EnqueueBackfill(c.Request().Context(), req.GrantID, req.Months, req.Max)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	resp := backfillResponse{OK: true, GrantID: req.GrantID}
	if rec != nil {
		resp.JobID = rec.JobID
		resp.Since = rec.SinceEpoch
	}
	return c.JSON(http.StatusOK, resp)
}

func (app *App) deltaHandler(c echo.Context) error {
	var req deltaRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.GrantID == "" {
		req.GrantID = app.Config.MailGrantID
	}
	if req.GrantID == "" {
		return respondError(c, http.StatusBadRequest, errors.New("grantId is required"))
	}

	rec, err := app.Dispatcher.EnqueueDelta(c.Request().Context(), req.GrantID, req.Max)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	resp := deltaResponse{OK: true, GrantID: req.GrantID}
	if rec != nil {
		resp.JobID = rec.JobID
	}
	return c.JSON(http.StatusOK, resp)
}

func (app *App) webhookHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}

	signature := c.Request().Header.Get(dispatch.SignatureHeader)
	if !dispatch.VerifySignature(app.Config.WebhookSecret, body, signature) {
		logging.Log.Warn("webhook signature verification failed")
		return respondError(c, http.StatusUnauthorized, errors.New("invalid webhook signature"))
	}

	ev, err := dispatch.ParseWebhook(body)
	if err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	enqueued, err := app.Dispatcher.HandleWebhook(c.Request().Context(), ev)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, webhookResponse{OK: true, Enqueued: enqueued})
}

func (app *App) listJobsHandler(c echo.Context) error {
	grantID := c.QueryParam("grantId")
	if grantID == "" {
		grantID = app.Config.MailGrantID
	}
	if grantID == "" {
		return respondError(c, http.StatusBadRequest, errors.New("grantId is required"))
	}
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := app.Store.ListJobs(grantID, limit)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	if jobs == nil {
		jobs = []store.JobRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

func (app *App) syncProgressHandler(c echo.Context) error {
	jobID := c.Param("jobId")
	rec, err := app.Store.GetJob(jobID)
	if errors.Is(err, store.ErrNotFound) {
		return respondError(c, http.StatusNotFound, errors.New("job not found"))
	}
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "job": rec})
}
