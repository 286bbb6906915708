package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/config"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/logger"
	"github.com/amil1105/tombala-sub000/internal/store"
	"github.com/amil1105/tombala-sub000/internal/syncagent"
	"github.com/amil1105/tombala-sub000/internal/types"
)

const help = `commands: start | draw | claim cinko1|cinko2|tombala | pause | resume | new
          settings [host-only|all-players] [slow|normal|fast] | chat <text> | state | quit`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	session := flag.String("session", "", "session code to join")
	player := flag.String("player", "", "player id (random when empty)")
	name := flag.String("name", "", "display name")
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "server url")
	flag.Parse()
	if *session == "" {
		return errors.New("-session is required")
	}
	if *player == "" {
		*player = uuid.NewString()[:8]
	}
	if *name == "" {
		*name = *player
	}

	log, err := logger.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := store.OpenBadger(filepath.Join(cfg.StoreDir, *player))
	if err != nil {
		return err
	}

	agent := syncagent.New(syncagent.Config{
		SessionID: strings.ToUpper(*session),
		PlayerID:  *player,
		Name:      *name,
	}, syncagent.WebsocketTransport{BaseURL: cfg.ServerURL}, db, log)
	defer func() {
		err = multierr.Combine(err, agent.Close(), db.Close())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r, err := agent.Restore(ctx); err == nil {
		fmt.Println("last known state (read-only):")
		printReplica(r)
	}
	if err := agent.Connect(ctx); err != nil {
		log.Warn("connect failed; showing last known state only", zap.Error(err))
	}

	go func() {
		for u := range agent.Updates() {
			printUpdate(u)
		}
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, agent, line)
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, a *syncagent.Agent, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "start":
		return false, a.Start(ctx)
	case "draw":
		return false, a.Draw(ctx)
	case "claim":
		return false, a.Claim(ctx, card.Tier(arg(1)))
	case "pause":
		return false, a.SetPaused(ctx, true)
	case "resume":
		return false, a.SetPaused(ctx, false)
	case "new":
		return false, a.NewGame(ctx)
	case "settings":
		r, _ := a.State()
		return false, a.UpdateSettings(ctx, changeSettings(r.Session.Settings, arg(1), arg(2)))
	case "chat":
		return false, a.SendChat(ctx, strings.TrimSpace(strings.TrimPrefix(line, "chat")))
	case "state":
		r, status := a.State()
		fmt.Println("status:", status)
		printReplica(r)
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	fmt.Println(help)
	return false, nil
}

// changeSettings applies the typed values over the current settings; an
// empty value keeps what the session already has.
func changeSettings(cur engine.Settings, permission, interval string) engine.Settings {
	if permission != "" {
		cur.DrawPermission = engine.DrawPermission(permission)
	}
	if interval != "" {
		cur.DrawInterval = engine.DrawInterval(interval)
	}
	return cur
}

func printUpdate(u syncagent.Update) {
	switch b := u.Broadcast.(type) {
	case nil:
		fmt.Printf("[%s]\n", u.Status)
	case types.Snapshot:
		printReplica(u.Replica)
	case types.NumberDrawn:
		marked := ""
		if u.Replica.Card != nil && u.Replica.Card.Contains(b.Number) {
			marked = " *on your card*"
		}
		fmt.Printf("drawn: %d%s (%d left)\n", b.Number, marked, u.Replica.Session.Draw.Remaining())
	case types.ClaimAccepted:
		fmt.Printf("%s won by %s\n", b.Tier, b.Winner.PlayerName)
	case types.StatusChanged:
		fmt.Printf("game %s paused=%v\n", b.Status, b.Paused)
	case types.Chat:
		fmt.Printf("<%s> %s\n", b.Name, b.Text)
	case types.PlayerJoined:
		fmt.Printf("%s joined\n", b.Player.Name)
	case types.PlayerLeft:
		fmt.Printf("%s left\n", b.PlayerID)
	case types.HostChanged:
		fmt.Printf("host is now %s\n", b.HostID)
	case types.SettingsChanged:
		fmt.Printf("settings: %s, %s\n", b.Settings.DrawPermission, b.Settings.DrawInterval)
	}
}

func printReplica(r syncagent.Replica) {
	s := r.Session
	fmt.Printf("session %s v%d %s paused=%v host=%s drawn=%d\n",
		s.SessionID, r.Version, s.Status, s.Paused, s.HostID, len(s.Draw.Drawn))
	if r.Card == nil {
		return
	}
	for row := 0; row < card.Rows; row++ {
		var cells []string
		for col := 0; col < card.Cols; col++ {
			n := r.Card[row][col]
			switch {
			case n == 0:
				cells = append(cells, "  .")
			case slices.Contains(s.Draw.Drawn, n):
				cells = append(cells, fmt.Sprintf("%2d*", n))
			default:
				cells = append(cells, fmt.Sprintf("%3d", n))
			}
		}
		fmt.Println(strings.Join(cells, " "))
	}
	if res, ok := r.Marked(); ok {
		fmt.Printf("marked %d/%d\n", res.Marked(), card.NumbersPerCard)
	}
}
