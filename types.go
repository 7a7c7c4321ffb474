// voxmail/types.go

package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"voxmail/internal/bridge"
	"voxmail/internal/dispatch"
	"voxmail/internal/ingest"
	"voxmail/internal/mail"
	"voxmail/internal/queue"
	"voxmail/internal/retrieval"
	"voxmail/internal/store"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

// App aggregates the wired components behind the HTTP surface.
type App struct {
	Config     *Config
	Store      *store.Store
	Mail       *mail.Client
	Vectors    *vecstore.Client
	Retrieval  *retrieval.Service
	Dispatcher *dispatch.Dispatcher
	Summarizer *summarize.Engine
	Queue      queue.Publisher
	Worker     *ingest.Worker
	Bridge     *bridge.Bridge
}

// errorEnvelope is the uniform error payload of every endpoint.
type errorEnvelope struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

func respondError(c echo.Context, status int, err error) error {
	return c.JSON(status, errorEnvelope{Error: err.Error(), Status: status})
}

func providerError(c echo.Context, err error) error {
	if apiErr, ok := err.(*mail.APIError); ok {
		return c.JSON(http.StatusBadGateway, errorEnvelope{Error: "mail provider error", Status: apiErr.Status, Body: apiErr.Body})
	}
	return respondError(c, http.StatusBadGateway, err)
}

// Wire shapes of the sync endpoints.
type backfillRequest struct {
	GrantID string `json:"grantId"`
	Months  int    `json:"months"`
	Max     int    `json:"max"`
}

type backfillResponse struct {
	OK       bool   `json:"ok"`
	GrantID  string `json:"grantId"`
	JobID    string `json:"jobId"`
	Upserted int    `json:"upserted"`
	Pages    int    `json:"pages"`
	TookMs   int64  `json:"tookMs"`
	Since    int64  `json:"since"`
}

type deltaRequest struct {
	GrantID string `json:"grantId"`
	Max     int    `json:"max"`
}

type deltaResponse struct {
	OK      bool   `json:"ok"`
	GrantID string `json:"grantId"`
	JobID   string `json:"jobId"`
}

type webhookResponse struct {
	OK       bool `json:"ok"`
	Enqueued bool `json:"enqueued"`
}

type deleteUserRequest struct {
	GrantID string `json:"grantId"`
}

type deleteUserResponse struct {
	OK      bool `json:"ok"`
	Deleted struct {
		Vectors   int64 `json:"vectors"`
		Summaries int   `json:"summaries"`
		Jobs      int   `json:"jobs"`
	} `json:"deleted"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Result string `json:"result"`
}
