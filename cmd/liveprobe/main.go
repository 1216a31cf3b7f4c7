// Command liveprobe is a headless session participant: it fetches a join
// ticket, joins the room with file-backed media and prints roster and view
// changes until interrupted.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-live/backend/internal/middleware"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "liveprobe",
		Usage: "headless participant for live sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8080",
				Usage:   "base URL of the live API",
				EnvVars: []string{"LIVEPROBE_API"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "join",
				Usage: "join a session room and stay until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "session id", Required: true},
					&cli.StringFlag{Name: "token", Usage: "API bearer token", EnvVars: []string{"LIVEPROBE_TOKEN"}, Required: true},
					&cli.StringFlag{Name: "name", Usage: "display name shown to others"},
					&cli.StringFlag{Name: "camera", Usage: "IVF file published as the camera"},
					&cli.StringFlag{Name: "mic", Usage: "Ogg Opus file published as the microphone"},
					&cli.StringFlag{Name: "screen", Usage: "IVF file published when screen sharing"},
					&cli.StringSliceFlag{Name: "ice", Usage: "ICE server URL", Value: cli.NewStringSlice("stun:stun.l.google.com:19302")},
					&cli.DurationFlag{Name: "join-timeout", Usage: "give up joining after this long", Value: 20 * time.Second},
					&cli.BoolFlag{Name: "grid", Usage: "start in grid view"},
					&cli.BoolFlag{Name: "end-on-leave", Usage: "end the session after leaving (provider only)"},
				},
				Action: runJoin,
			},
			{
				Name:  "token",
				Usage: "mint an API bearer token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Usage: "JWT secret of the API", EnvVars: []string{"JWT_SECRET"}, Required: true},
					&cli.StringFlag{Name: "user", Usage: "user id (random when empty)"},
					&cli.StringFlag{Name: "email", Value: "probe@example.com"},
					&cli.StringFlag{Name: "role", Value: middleware.AccountRoleMember, Usage: "account role (admin, provider, member)"},
					&cli.IntFlag{Name: "hours", Value: 24, Usage: "token lifetime"},
				},
				Action: runToken,
			},
		},
	}
}

func newLogger(debug bool) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !debug {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
