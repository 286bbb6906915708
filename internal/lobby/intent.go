package lobby

import (
	"errors"
	"fmt"

	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/types"
)

// ErrAlreadyJoined is returned for a join intent on a connection that has
// already joined.
var ErrAlreadyJoined = errors.New("already joined")

// FromIntent turns a decoded wire intent from a joined connection into the
// lobby message that carries it.
func FromIntent(clientID, requestID string, in types.Intent) (Msg, error) {
	cmd := func(c engine.Command) Msg {
		return FromClient{ClientID: clientID, RequestID: requestID, Cmd: c}
	}
	switch v := in.(type) {
	case types.Start:
		return cmd(engine.Command{Type: engine.CmdStart}), nil
	case types.RequestDraw:
		return cmd(engine.Command{Type: engine.CmdDraw}), nil
	case types.Claim:
		return cmd(engine.Command{Type: engine.CmdClaim, Tier: v.Tier}), nil
	case types.SetPaused:
		return cmd(engine.Command{Type: engine.CmdSetPaused, Paused: v.Paused}), nil
	case types.UpdateSettings:
		return cmd(engine.Command{Type: engine.CmdUpdateSettings, Settings: v.Settings}), nil
	case types.NewGame:
		return cmd(engine.Command{Type: engine.CmdNewGame}), nil
	case types.SendChat:
		return Chat{ClientID: clientID, RequestID: requestID, Text: v.Text}, nil
	case types.Resync:
		return Resync{ClientID: clientID, RequestID: requestID}, nil
	case types.Join:
		return nil, ErrAlreadyJoined
	}
	return nil, fmt.Errorf("%w: unhandled intent %q", types.ErrBadMessage, in.IntentType())
}

func intentName(t engine.CommandType) string {
	switch t {
	case engine.CmdJoin:
		return types.IntentJoin
	case engine.CmdStart:
		return types.IntentStart
	case engine.CmdDraw:
		return types.IntentRequestDraw
	case engine.CmdClaim:
		return types.IntentClaim
	case engine.CmdSetPaused:
		return types.IntentSetPaused
	case engine.CmdUpdateSettings:
		return types.IntentUpdateSettings
	case engine.CmdNewGame:
		return types.IntentNewGame
	}
	return string(t)
}

// toBroadcast renders an engine event against the state it produced.
func toBroadcast(s engine.State, ev engine.Event) types.Broadcast {
	switch ev.Type {
	case engine.EvtPlayerJoined:
		if p := s.Player(ev.PlayerID); p != nil {
			return types.PlayerJoined{Player: types.NewPlayerView(s, *p)}
		}
		return types.PlayerJoined{Player: types.PlayerView{ID: ev.PlayerID}}
	case engine.EvtPlayerLeft:
		return types.PlayerLeft{PlayerID: ev.PlayerID}
	case engine.EvtHostChanged:
		return types.HostChanged{HostID: ev.PlayerID}
	case engine.EvtNumberDrawn:
		return types.NumberDrawn{Number: ev.Number, Countdown: ev.Countdown}
	case engine.EvtClaimAccepted:
		var w engine.Winner
		if ev.Winner != nil {
			w = *ev.Winner
		}
		return types.ClaimAccepted{Tier: ev.Tier, Winner: w}
	case engine.EvtSettingsChanged:
		return types.SettingsChanged{Settings: ev.Settings}
	}
	return types.StatusChanged{Status: ev.Status, Paused: ev.Paused, Countdown: ev.Countdown}
}
