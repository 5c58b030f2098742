package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhinavnt/codefolio-sub001/internal/broker/rtc"
	"github.com/abhinavnt/codefolio-sub001/internal/broker/wamp"
	"github.com/abhinavnt/codefolio-sub001/internal/config"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/logging"
	"github.com/abhinavnt/codefolio-sub001/internal/media"
	"github.com/abhinavnt/codefolio-sub001/internal/session"
	"github.com/abhinavnt/codefolio-sub001/internal/signaling"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	roomID      string
	statusEvery time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stay until interrupted",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&roomID, "room", "", "room (booking) id to join")
	joinCmd.Flags().DurationVar(&statusEvery, "status-every", 10*time.Second, "interval between remote stream reports")
	_ = joinCmd.MarkFlagRequired("room")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPeer(v)
	if err != nil {
		return err
	}
	logging.Setup("debug", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sig, err := signaling.Dial(ctx, cfg.SignalURL)
	if err != nil {
		return err
	}

	brk := rtc.New(
		wamp.NewClient(cfg.BrokerURL, cfg.Realm, cfg.ResponseTimeout),
		rtc.WebRTCConfig(cfg.ICEServers),
	)

	ctl, err := session.New(session.Config{
		Room:   domain.RoomID(roomID),
		Media:  media.Synthetic{Audio: true},
		Broker: brk,
		Signal: sig,
	},
		session.WithObserver(func(from, to session.State) {
			log.Info().Str("module", "peer").Str("from", from.String()).Str("to", to.String()).Msg("session state")
		}),
		session.WithRemoteObserver(func(c session.Change) {
			log.Info().Str("module", "peer").Str("remote", string(c.Peer)).Int("kind", int(c.Kind)).Msg("remote streams changed")
		}),
	)
	if err != nil {
		_ = sig.Close()
		return err
	}

	if err := ctl.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("module", "peer").Str("peer", string(ctl.PeerID())).Str("room", roomID).Msg("joined")

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report(ctl)
		case <-ctx.Done():
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := ctl.Leave(leaveCtx)
			leaveCancel()
			return err
		case <-ctl.Done():
			return ctl.Err()
		}
	}
}

func report(ctl *session.Controller) {
	entries := ctl.Remotes().List()
	log.Info().Str("module", "peer").Int("remotes", len(entries)).Msg("status")
	for _, e := range entries {
		ev := log.Info().Str("module", "peer").Str("remote", string(e.Peer))
		if rs, ok := e.Stream.(*media.RemoteStream); ok {
			st := rs.Stats()
			ev = ev.Strs("tracks", st.Tracks).Uint64("packets", st.Packets).Uint64("bytes", st.Bytes)
		}
		ev.Msg("remote")
	}
}
