// voxmail/handlers_user.go

package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"voxmail/internal/logging"
)

func (app *App) deleteUserHandler(c echo.Context) error {
	var req deleteUserRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.GrantID == "" {
		req.GrantID = c.QueryParam("grantId")
	}
	if req.GrantID == "" {
		return respondError(c, http.StatusBadRequest, errors.New("grantId is required"))
	}

	ctx := c.Request().Context()
	resp := deleteUserResponse{OK: true}

	// Snapshot the namespace size before purging so the response can report
	// how many vectors went away.
	if stats, err := app.Vectors.DescribeStats(ctx, nil); err == nil {
		resp.Deleted.Vectors = stats.Namespaces[req.GrantID]
	} else {
		logging.Log.WithError(err).Warn("stats before purge failed")
	}

	if err := app.Vectors.DeleteByFilter(ctx, req.GrantID, nil); err != nil {
		return providerError(c, err)
	}
	counts, err := app.Store.PurgeGrant(req.GrantID)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	resp.Deleted.Summaries = counts.Summaries
	resp.Deleted.Jobs = counts.Jobs

	logging.Log.WithField("grant_id", req.GrantID).
		WithField("vectors", resp.Deleted.Vectors).
		WithField("jobs", resp.Deleted.Jobs).
		Info("tenant purged")
	return c.JSON(http.StatusOK, resp)
}

func (app *App) agentChatHandler(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.Text == "" {
		return respondError(c, http.StatusBadRequest, errors.New("text is required"))
	}
	result, err := app.Bridge.ProcessUserRequest(c.Request().Context(), req.Text)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, chatResponse{Result: result})
}

func (app *App) agentGraphHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"nodes": app.Bridge.GetCallGraph().Nodes()})
}

func (app *App) agentScratchpadHandler(c echo.Context) error {
	grantID := c.QueryParam("grantId")
	if grantID == "" {
		grantID = app.Config.MailGrantID
	}
	pad := app.Bridge.GetScratchpads().For(grantID)
	return c.JSON(http.StatusOK, map[string]any{"entries": pad.Entries()})
}
