package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/adapters/relay"
	"github.com/toonchat/compass/internal/adapters/storage"
	"github.com/toonchat/compass/internal/app"
	"github.com/toonchat/compass/internal/config"
	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
	"github.com/toonchat/compass/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	invite := ""
	if len(os.Args) > 1 {
		invite = os.Args[1]
	}
	handle := pickHandle(cfg.Handle, invite)

	snap, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to open profile storage")
		os.Exit(1)
	}
	defer snap.Close()

	sink := consoleSink{}
	messages := store.New(snap, sink)
	dir := app.NewDirectory()
	dir.RestoreFrom(snap)

	transport := relay.NewTransport(cfg.RelayURL)
	mgr := app.NewManager(cfg.AppID, handle, transport, dir, messages, snap, sink)

	// Another process sharing this profile dir is the "other tab": its
	// writes reconcile local state without touching the transport.
	snap.Subscribe(func(key core.SnapshotKey, data []byte) {
		switch key {
		case core.KeyRooms:
			mgr.ReconcileRooms(data)
		case core.KeyMessages:
			rec := messages.ApplyExternalSnapshot(data, mgr.ActiveRoom().Key().String(), true)
			if rec.VisibleChanged {
				printHistory(messages, mgr)
			}
		}
	})

	fmt.Printf("compass: you are %s. /help for commands.\n", handle)
	if invite != "" {
		if err := mgr.JoinFromInvite(invite); err != nil {
			sink.Notice(fmt.Sprintf("Invite rejected: %v", err))
		}
	}

	repl(mgr, messages, sink)
	mgr.Shutdown()
}

// pickHandle prefers the configured handle, then the invite's suggested
// name, then a generated guest handle.
func pickHandle(configured, inviteFragment string) string {
	if h, err := domain.NewHandle(configured); err == nil {
		return h
	}
	if inviteFragment != "" {
		if inv, err := domain.ParseInvite(inviteFragment); err == nil {
			if h, err := domain.NewHandle(inv.Name); err == nil {
				return h
			}
		}
	}
	return "guest-" + uuid.NewString()[:4]
}

func repl(mgr *app.Manager, messages *store.Store, sink consoleSink) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			msg := mgr.Send(line)
			fmt.Printf("[%s] You: %s\n", formatClock(msg.TimestampMillis), msg.Text)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return
		case "/help":
			fmt.Println("/create [pass] | /join <room> [pass] | /switch <room> | /leave | /rooms | /share | /quit")
		case "/rooms":
			for _, r := range mgr.Rooms() {
				marker := " "
				if r.Key() == mgr.ActiveRoom().Key() {
					marker = "*"
				}
				line := fmt.Sprintf("%s %s (%s)", marker, r.DisplayName, r.Key().String())
				if history := messages.History(r.Key().String()); len(history) > 0 {
					last := history[len(history)-1]
					line += fmt.Sprintf("  %s %s", domain.Initials(last.Sender), domain.Truncate(last.Text, 24))
				}
				fmt.Println(line)
			}
		case "/create":
			secret := ""
			if len(fields) > 1 {
				secret = fields[1]
			}
			id := domain.GenerateRoomID()
			room, err := domain.NewJoinedRoom(id, id, secret, "")
			if err != nil {
				sink.Notice(fmt.Sprintf("Bad room id: %v", err))
				continue
			}
			if err := mgr.Join(room); err != nil {
				continue
			}
			printHistory(messages, mgr)
		case "/join":
			if len(fields) < 2 {
				sink.Notice("Usage: /join <room> [pass]")
				continue
			}
			secret := ""
			if len(fields) > 2 {
				secret = fields[2]
			}
			room, err := domain.NewJoinedRoom(fields[1], fields[1], secret, "")
			if err != nil {
				sink.Notice(fmt.Sprintf("Bad room id: %v", err))
				continue
			}
			if err := mgr.Join(room); err != nil {
				continue
			}
			printHistory(messages, mgr)
		case "/switch":
			if len(fields) < 2 {
				sink.Notice("Usage: /switch <room>")
				continue
			}
			if err := mgr.SwitchTo(domain.ParseRoomKey(fields[1])); err != nil {
				sink.Notice(fmt.Sprintf("Switch failed: %v", err))
				continue
			}
			printHistory(messages, mgr)
		case "/leave":
			active := mgr.ActiveRoom()
			if err := mgr.Leave(active.Key()); err != nil {
				sink.Notice(fmt.Sprintf("Cannot leave: %v", err))
			}
		case "/share":
			frag, err := mgr.ShareInvite()
			if err != nil {
				sink.Notice("The personal room is not shareable.")
				continue
			}
			fmt.Println(frag)
		default:
			sink.Notice(fmt.Sprintf("Unknown command %s", fields[0]))
		}
	}
}

func printHistory(messages *store.Store, mgr *app.Manager) {
	room := mgr.ActiveRoom()
	fmt.Printf("--- #%s ---\n", room.DisplayName)
	for _, msg := range messages.History(room.Key().String()) {
		sender := msg.Sender
		if msg.IsOwn {
			sender = "You"
		}
		fmt.Printf("[%s] %s: %s\n", formatClock(msg.TimestampMillis), sender, msg.Text)
	}
}
