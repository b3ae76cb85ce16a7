package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skillmeet/meetcore/internal/client"
	"github.com/skillmeet/meetcore/internal/domain"
)

var (
	flagServer string
	flagName   string
	flagToken  string
	flagSTUN   []string
	flagInvite string
	flagScreen time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a meeting room and hold the connection until interrupted",
	Long: `Join a meeting room, announce a display name and negotiate with every
member already there.

Examples:
  meetcli join study-group-42 --name Ada
  meetcli join study-group-42 --name Ada --invite <identity>
  meetcli join study-group-42 --screen 10s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(domain.RoomID(args[0]))
	},
}

func joinRoom(room domain.RoomID) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rtcCfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: flagSTUN}},
	}

	media := client.NewLocalMedia()
	if src := media.AcquireCamera(client.SyntheticCapture); src == nil {
		log.Warn().Str("module", "cli").Msg("joining receive-only")
	}

	c, err := client.Dial(ctx, flagServer, flagToken, flagName,
		func(out client.Sender) *client.LinkPool {
			return client.NewLinkPool(rtcCfg, media, out)
		}, media)
	if err != nil {
		return fmt.Errorf("dial %s: %w", flagServer, err)
	}
	defer c.Close()

	if err := c.JoinRoom(room); err != nil {
		return err
	}
	log.Info().Str("module", "cli").Str("room", string(room)).Msg("joined, waiting for peers")

	if flagInvite != "" {
		if err := c.Invite(domain.ParticipantID(flagInvite)); err != nil {
			return err
		}
		log.Info().Str("module", "cli").Str("target", flagInvite).Msg("invite sent")
	}

	if flagScreen > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(flagScreen):
				if err := c.StartScreen(client.SyntheticCapture); err != nil {
					log.Error().Err(err).Str("module", "cli").Msg("screen share failed")
					return
				}
				log.Info().Str("module", "cli").Msg("switched to screen share")
			}
		}()
	}

	<-ctx.Done()
	if err := c.LeaveRoom(); err != nil {
		log.Debug().Err(err).Str("module", "cli").Msg("leave on shutdown")
	}
	return nil
}

func init() {
	joinCmd.Flags().StringVarP(&flagServer, "server", "s", "ws://localhost:8080/api/ws/signal", "signal endpoint URL")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "meetcli", "display name announced to the room")
	joinCmd.Flags().StringVarP(&flagToken, "token", "t", "", "client token, to keep one identity across runs")
	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	joinCmd.Flags().StringVar(&flagInvite, "invite", "", "identity to invite into the room after joining")
	joinCmd.Flags().DurationVar(&flagScreen, "screen", 0, "switch to a synthetic screen share after this delay")
	rootCmd.AddCommand(joinCmd)
}
