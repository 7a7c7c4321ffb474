// voxmail/handlers_realtime.go

package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"voxmail/internal/voice"
)

// realtimeSessionHandler mints an ephemeral realtime token for the browser
// client. The provider API key itself never leaves the server.
func (app *App) realtimeSessionHandler(c echo.Context) error {
	tok, err := voice.MintEphemeralToken(
		c.Request().Context(),
		app.Config.OpenAIAPIKey,
		app.Config.RealtimeModel,
		app.Config.RealtimeVoice,
		nil,
	)
	if err != nil {
		return providerError(c, err)
	}
	return c.JSON(http.StatusOK, tok)
}
