package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/presentation"
	"github.com/aura-live/backend/internal/room"
	"github.com/aura-live/backend/internal/rtcclient"
)

func runJoin(c *cli.Context) error {
	log := newLogger(c.Bool("debug"))
	defer log.Sync()

	sessionID, err := uuid.Parse(c.String("session"))
	if err != nil {
		return fmt.Errorf("invalid --session: %w", err)
	}
	api := newAPIClient(c.String("api"), c.String("token"))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticket, err := api.joinTicket(ctx, sessionID, c.String("name"))
	if err != nil {
		return err
	}
	userID, err := ticketUser(ticket.Token)
	if err != nil {
		return err
	}
	log.Info("join ticket issued",
		zap.String("session_id", sessionID.String()),
		zap.String("room", ticket.Room),
		zap.String("role", ticket.Role),
		zap.Time("expires_at", ticket.ExpiresAt))

	cfg := room.DefaultConfig()
	cfg.JoinTimeout = c.Duration("join-timeout")
	factory := rtcclient.Factory(rtcclient.Options{
		Media: rtcclient.Media{
			Camera:      c.String("camera"),
			Microphone:  c.String("mic"),
			ScreenShare: c.String("screen"),
		},
		ICEServers: c.StringSlice("ice"),
	}, log)
	mgr := room.NewManager(factory, cfg, log)
	defer mgr.Close()

	conn, err := mgr.Join(ctx, room.JoinRequest{
		SessionID: sessionID,
		UserID:    userID,
		RoomName:  ticket.Room,
		Address:   ticket.Address,
		Token:     ticket.Token,
	})
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if conn.Degraded() {
		log.Warn("joined without some media devices", zap.Any("media", conn.Media()))
	}

	view, unbind := presentation.Bind(conn)
	defer unbind()
	view.OnChange(func(v presentation.View) { printView(v) })
	if c.Bool("grid") {
		view.ToggleGrid()
	}
	printView(view.View())

	_, unobserve := conn.Observe(func(u room.Update) {
		switch u.Kind {
		case room.UpdateParticipantJoined:
			fmt.Printf("+ %s\n", u.Participant.Identity)
		case room.UpdateParticipantLeft:
			fmt.Printf("- %s\n", u.Participant.Identity)
		case room.UpdateParticipantChanged:
			p := u.Participant
			fmt.Printf("~ %s video=%t audio=%t speaking=%t\n", p.Identity, p.HasVideo, p.HasAudio, p.IsSpeaking)
		case room.UpdateStateChanged:
			if u.Err != nil {
				fmt.Printf("state %s: %v\n", u.State, u.Err)
			} else {
				fmt.Printf("state %s\n", u.State)
			}
		}
	})
	defer unobserve()

	var cause error
	select {
	case <-ctx.Done():
	case <-conn.Done():
		cause = conn.Err()
	}
	conn.Leave()
	log.Info("left room", zap.String("room", ticket.Room))

	if c.Bool("end-on-leave") {
		if ticket.Role != auth.RoleProvider {
			log.Warn("only the provider can end the session; skipping")
		} else {
			endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := api.endSession(endCtx, sessionID); err != nil {
				return fmt.Errorf("end session: %w", err)
			}
			log.Info("session ended", zap.String("session_id", sessionID.String()))
		}
	}
	return cause
}

func printView(v presentation.View) {
	if v.Mode == presentation.ModeGrid {
		fmt.Printf("view grid [%s]\n", strings.Join(v.Tiles, " "))
		return
	}
	fmt.Printf("view single primary=%s thumbnails=[%s]\n", v.Primary, strings.Join(v.Thumbnails, " "))
}

func runToken(c *cli.Context) error {
	userID := uuid.New()
	if s := c.String("user"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		userID = id
	}
	token, err := auth.NewJWTService(c.String("secret"), c.Int("hours")).Generate(userID, c.String("email"), c.String("role"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "user_id=%s\n%s\n", userID, token)
	return nil
}
