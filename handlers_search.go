// voxmail/handlers_search.go

package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"voxmail/internal/retrieval"
)

func (app *App) searchHandler(c echo.Context) error {
	var req retrieval.SearchRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if len(req.Queries) == 0 || strings.TrimSpace(req.Queries[0].Text) == "" {
		return respondError(c, http.StatusBadRequest, errors.New("queries[0].text is required"))
	}
	if req.Namespace == "" {
		req.Namespace = app.Config.MailGrantID
	}
	resp, err := app.Retrieval.Search(c.Request().Context(), req)
	if err != nil {
		return providerError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (app *App) aggregateHandler(c echo.Context) error {
	var req retrieval.AggregateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	resp, err := app.Retrieval.Aggregate(c.Request().Context(), req)
	if err != nil {
		return providerError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (app *App) countHandler(c echo.Context) error {
	var req retrieval.CountRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if req.Namespace == "" {
		req.Namespace = app.Config.MailGrantID
	}
	resp, err := app.Retrieval.Count(c.Request().Context(), req)
	if err != nil {
		return providerError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (app *App) analyzeHandler(c echo.Context) error {
	var req retrieval.AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return respondError(c, http.StatusBadRequest, errors.New("text is required"))
	}
	if req.Namespace == "" {
		req.Namespace = app.Config.MailGrantID
	}
	resp, err := app.Retrieval.Analyze(c.Request().Context(), req)
	if err != nil {
		return providerError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
