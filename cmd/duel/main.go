package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/glitchmath/duel/internal/app"
	"github.com/glitchmath/duel/internal/config"
	"github.com/glitchmath/duel/internal/game"
	"github.com/glitchmath/duel/internal/match"
	"github.com/glitchmath/duel/internal/wire"
)

func main() {
	invite := flag.String("invite", "", "invite query string, e.g. \"multiplayer=true&channel=m1&role=host&duration=2\"")
	lobbyMode := flag.Bool("lobby", false, "enter the lobby to browse the roster and exchange challenges")
	flag.Parse()

	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	values, err := url.ParseQuery(*invite)
	if err != nil {
		log.Fatalf("invalid invite: %v", err)
	}
	params := match.ParseParams(values)
	if values.Get("duration") == "" && cfg.Game.DefaultDuration > 0 {
		params.Duration = cfg.Game.DefaultDuration
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instance, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer instance.Close()

	if *lobbyMode {
		err = lobby(ctx, instance)
	} else {
		err = run(ctx, instance, params)
	}
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

// lobby browses the presence roster and runs the challenge handshake until a
// concluded one hands over to a match session.
func lobby(ctx context.Context, instance *app.Application) error {
	self := instance.Profile()
	out := os.Stdout

	var (
		mu              sync.Mutex
		incoming        *wire.InvitePayload
		outgoingMinutes int
	)
	matchCh := make(chan match.Params, 1)

	lb, err := instance.JoinLobby(ctx, app.LobbyOptions{
		OnInvite: func(inv wire.InvitePayload) {
			mu.Lock()
			incoming = &inv
			mu.Unlock()
			fmt.Fprintf(out, "\n%s %s challenges you to a %d minute match. [y/n]\n> ", inv.FromAvatar, inv.FromName, inv.Duration)
		},
		OnResponse: func(resp wire.InviteResponsePayload) {
			if !resp.Accepted {
				fmt.Fprintf(out, "\n%s declined the challenge.\n> ", resp.FromName)
				return
			}
			mu.Lock()
			minutes := outgoingMinutes
			mu.Unlock()
			params := match.Params{
				Multiplayer:    true,
				Role:           match.RoleHost,
				Channel:        match.MatchChannel(self.PlayerID, resp.FromPlayerID),
				Duration:       match.DurationFromMinutes(minutes),
				OpponentID:     resp.FromPlayerID,
				OpponentName:   resp.FromName,
				OpponentAvatar: resp.FromAvatar,
			}
			select {
			case matchCh <- params:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer lb.Leave(ctx)

	printRoster(ctx, out, lb, self.PlayerID)
	fmt.Fprint(out, "commands: list | <playerId> [minutes] | y/n | q\n> ")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	for {
		select {
		case <-sigCh:
			return nil
		case params := <-matchCh:
			lb.Leave(ctx)
			return run(ctx, instance, params)
		case line := <-input:
			switch {
			case line == "q":
				return nil
			case line == "" || line == "list":
				printRoster(ctx, out, lb, self.PlayerID)
			case line == "y" || line == "n":
				mu.Lock()
				inv := incoming
				incoming = nil
				mu.Unlock()
				if inv == nil {
					continue
				}
				lb.Respond(ctx, inv.FromPlayerID, line == "y")
				if line == "y" {
					params := match.Params{
						Multiplayer:    true,
						Role:           match.RoleGuest,
						Channel:        match.MatchChannel(inv.FromPlayerID, self.PlayerID),
						Duration:       match.DurationFromMinutes(inv.Duration),
						OpponentID:     inv.FromPlayerID,
						OpponentName:   inv.FromName,
						OpponentAvatar: inv.FromAvatar,
					}
					lb.Leave(ctx)
					return run(ctx, instance, params)
				}
			default:
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				minutes := 1
				if len(fields) > 1 {
					if m, err := strconv.Atoi(fields[1]); err == nil {
						minutes = m
					}
				}
				mu.Lock()
				outgoingMinutes = minutes
				mu.Unlock()
				lb.Challenge(ctx, fields[0], minutes)
				fmt.Fprintf(out, "challenge sent to %s\n> ", fields[0])
			}
		}
	}
}

func printRoster(ctx context.Context, out *os.File, lb *app.Lobby, selfID string) {
	members, err := lb.Roster(ctx)
	if err != nil {
		fmt.Fprintf(out, "roster unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(out, "\nlobby (%d online)\n", len(members))
	for _, m := range members {
		marker := ""
		if m.PlayerID == selfID {
			marker = " (you)"
		} else if m.CurrentMatch != nil {
			marker = " (in match)"
		}
		fmt.Fprintf(out, "  %s %s%s  %s\n", m.Avatar, m.Name, marker, m.PlayerID)
		if lg := m.LastMatch; lg != nil {
			verdict := "lost"
			if lg.Won {
				verdict = "won"
			}
			fmt.Fprintf(out, "      last: %s %d:%d vs %s\n", verdict, lg.Score, lg.OpponentScore, lg.Opponent)
		}
	}
}

func run(ctx context.Context, instance *app.Application, params match.Params) error {
	done := make(chan struct{})
	ui := &renderer{out: os.Stdout, done: done}

	session, err := instance.NewSession(ctx, params, app.SessionOptions{
		OnState:  ui.render,
		OnReturn: ui.finish,
	})
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if !params.Multiplayer {
		session.Begin()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	for {
		select {
		case <-sigCh:
			session.Quit()
			return nil
		case <-done:
			return nil
		case line := <-input:
			if line == "q" {
				session.Quit()
				return nil
			}
			slot, err := strconv.Atoi(line)
			if err != nil || slot < 1 || slot > game.OptionCount {
				continue
			}
			st := session.State()
			if st.CurrentQuestion == nil {
				continue
			}
			session.Answer(st.CurrentQuestion.Options[slot-1])
		}
	}
}

// renderer prints the match to the terminal, re-drawing only when the
// visible part of the state changes.
type renderer struct {
	out  *os.File
	done chan struct{}

	lastPhase     game.Phase
	lastQPhase    game.QuestionPhase
	lastIndex     int
	lastCountdown int
	doneClosed    bool
}

func (r *renderer) render(s game.State) {
	switch s.Phase {
	case game.PhaseCountdown:
		if s.Phase != r.lastPhase || s.CountdownValue != r.lastCountdown {
			fmt.Fprintf(r.out, "\n  %d...\n", s.CountdownValue)
		}
	case game.PhaseActive:
		if s.CurrentQuestion != nil &&
			(s.QuestionIndex != r.lastIndex || s.Phase != r.lastPhase) {
			r.printQuestion(s)
		}
		if s.QuestionPhase != r.lastQPhase && s.QuestionPhase == game.QBothAnswered {
			fmt.Fprintf(r.out, "  you %d : %d them\n", s.SelfScore, s.PeerScore)
		}
		if s.BonusFlag {
			fmt.Fprintln(r.out, "  BONUS x2!")
		}
	case game.PhaseResults:
		if s.Phase != r.lastPhase {
			fmt.Fprintf(r.out, "\nFinal score  you %d : %d them\n", s.SelfScore, s.PeerScore)
			if n := len(s.History); n > 0 {
				last := s.History[n-1]
				fmt.Fprintf(r.out, "%d/%d correct (%d%%)\n", last.Correct, last.Total, last.Percent)
			}
			r.finish()
		}
	case game.PhaseForfeited:
		if s.Phase != r.lastPhase && s.ForfeitInfo != nil {
			fmt.Fprintf(r.out, "\n%s left the match. You win by forfeit.\n", s.ForfeitInfo.Name)
		}
	}

	r.lastPhase = s.Phase
	r.lastQPhase = s.QuestionPhase
	r.lastIndex = s.QuestionIndex
	r.lastCountdown = s.CountdownValue
}

func (r *renderer) printQuestion(s game.State) {
	q := s.CurrentQuestion
	fmt.Fprintf(r.out, "\nQ%d: %s\n", s.QuestionIndex, q.Prompt())
	for i, opt := range q.Options {
		fmt.Fprintf(r.out, "  [%d] %d\n", i+1, opt)
	}
	fmt.Fprint(r.out, "> ")
}

func (r *renderer) finish() {
	if r.doneClosed {
		return
	}
	r.doneClosed = true
	close(r.done)
}
