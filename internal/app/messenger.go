package app

import (
	"fmt"
	"strings"

	"fdroidbot/internal/config"
	"fdroidbot/internal/transport"
	"fdroidbot/internal/transport/matrix"
	"fdroidbot/internal/transport/nats"
	"fdroidbot/internal/transport/telegram"
	logx "fdroidbot/pkg/logx"
)

func newMessenger(c config.ChatConfig, t config.Timeouts, runID string, log logx.Logger) (transport.Messenger, error) {
	switch backend := strings.ToLower(strings.TrimSpace(c.Backend)); backend {
	case "matrix":
		mc := c.Matrix
		return matrix.New(matrix.Config{
			Homeserver:  mc.Homeserver,
			UserID:      mc.MxID,
			DeviceID:    mc.DeviceID,
			Password:    config.Secret(mc.Password, mc.PasswordEnv),
			AccessToken: config.Secret(mc.AccessToken, mc.AccessTokenEnv),
		}, log)
	case "telegram":
		tc := c.Telegram
		return telegram.New(telegram.Config{
			Token:       config.Secret(tc.Token, tc.TokenEnv),
			APIURL:      tc.APIURL,
			HTTPTimeout: t.Send,
		}, log)
	case "nats":
		nc := c.NATS
		return nats.New(nats.Config{
			URL:            nc.URL,
			User:           nc.User,
			Password:       config.Secret(nc.Password, nc.PasswordEnv),
			Token:          config.Secret(nc.Token, nc.TokenEnv),
			RunID:          runID,
			ConnectTimeout: t.Login,
		}, log)
	default:
		return nil, fmt.Errorf("unknown chat backend %q", c.Backend)
	}
}
