// Package client parses client command flags and composes the realtime
// session client: connection manager, game orchestrator, invitation bridge,
// and the local history store.
package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ayush-jaipuriar/only-yours/internal/auth"
	"github.com/ayush-jaipuriar/only-yours/internal/game"
	"github.com/ayush-jaipuriar/only-yours/internal/invite"
	entrypoint "github.com/ayush-jaipuriar/only-yours/internal/platform/cmd"
	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
	"github.com/ayush-jaipuriar/only-yours/internal/realtime"
	"github.com/ayush-jaipuriar/only-yours/internal/storage"
	"github.com/ayush-jaipuriar/only-yours/internal/storage/sqlite"
)

const (
	// historyLogLimit caps the archived sessions replayed into the startup log.
	historyLogLimit = 5
	// maxConnectAttempts bounds startup retries for retryable connect failures.
	maxConnectAttempts = 3
)

// Config holds client command configuration.
type Config struct {
	ServerURL      string        `env:"ONLY_YOURS_SERVER_URL"      envDefault:"http://localhost:8080"`
	AccessToken    string        `env:"ONLY_YOURS_ACCESS_TOKEN"`
	HistoryDBPath  string        `env:"ONLY_YOURS_HISTORY_DB_PATH" envDefault:"only-yours-history.db"`
	ConnectTimeout time.Duration `env:"ONLY_YOURS_CONNECT_TIMEOUT" envDefault:"15s"`
	ReconnectDelay time.Duration `env:"ONLY_YOURS_RECONNECT_DELAY" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "server base URL (http or https)")
	fs.StringVar(&cfg.AccessToken, "access-token", cfg.AccessToken, "access token presented on connect")
	fs.StringVar(&cfg.HistoryDBPath, "history-db", cfg.HistoryDBPath, "local session-history database path")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "bound on a single connect attempt")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "pause between reconnect attempts")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run connects the client and keeps the session machinery alive until ctx is
// canceled. Received invitations are accepted and completed sessions are
// archived to the local history store.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceClient, func(ctx context.Context) error {
		info, err := auth.InspectToken(cfg.AccessToken, time.Now())
		if err != nil {
			return fmt.Errorf("inspect access token: %w", err)
		}
		if info.ExpiresWithin(time.Now(), time.Minute) {
			log.Printf("client: access token for %s expires at %s", info.Subject, info.ExpiresAt.Format(time.RFC3339))
		}

		store, err := sqlite.Open(ctx, cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("client: close history store: %v", err)
			}
		}()
		logHistory(ctx, store)

		manager := realtime.New(realtime.Config{
			ConnectTimeout: cfg.ConnectTimeout,
			ReconnectDelay: cfg.ReconnectDelay,
		})
		manager.SetStateListener(func(state realtime.State) {
			log.Printf("client: connection %s", state)
		})
		if err := connectWithRetry(ctx, manager, cfg); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer manager.Disconnect()

		orchestrator := game.NewOrchestrator(manager)
		orchestrator.SetListener(func(snap game.Snapshot) {
			logSnapshot(snap)
			if snap.Status == game.SessionCompleted && snap.Result != nil {
				archiveSession(store, snap)
				// End releases the subscriptions; it must not run on the
				// listener's own goroutine.
				go orchestrator.End()
			}
		})

		bridge := invite.NewBridge(manager)
		bridge.OnStatus(func(ev game.StatusEvent) {
			log.Printf("client: status %s %s", ev.Status, ev.Message)
		})
		bridge.OnInvitation(func(ev game.InvitationEvent) {
			log.Printf("client: invitation to %q (session %s)", ev.CategoryName, ev.SessionID)
			if err := bridge.Accept(ev.SessionID); err != nil {
				log.Printf("client: accept invitation: %v", err)
				return
			}
			if err := orchestrator.Start(ev.SessionID); err != nil {
				log.Printf("client: start session: %v", err)
			}
		})
		if err := bridge.Attach(); err != nil {
			return fmt.Errorf("attach invitation bridge: %w", err)
		}
		defer bridge.Detach()

		<-ctx.Done()
		orchestrator.End()
		return nil
	})
}

// connectWithRetry keeps re-attempting retryable connect failures (timeouts,
// transient transport errors). Terminal codes, protocol rejection included,
// surface immediately so the caller can remediate the credential.
func connectWithRetry(ctx context.Context, manager *realtime.Manager, cfg Config) error {
	for attempt := 1; ; attempt++ {
		err := manager.Connect(ctx, cfg.ServerURL, cfg.AccessToken)
		if err == nil {
			return nil
		}
		if attempt >= maxConnectAttempts || !apperrors.CodeOf(err).Retryable() {
			return err
		}
		log.Printf("client: connect attempt %d failed: %v; retrying in %s", attempt, err, cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}

// logHistory replays the most recently archived sessions into the startup
// log, newest first.
func logHistory(ctx context.Context, store storage.Store) {
	records, err := store.ListSessions(ctx, historyLogLimit)
	if err != nil {
		log.Printf("client: load session history: %v", err)
		return
	}
	for _, record := range records {
		log.Printf("client: history %s", formatHistoryLine(record))
	}
}

func formatHistoryLine(record storage.SessionRecord) string {
	return fmt.Sprintf("%s: %s %d + %s %d of %d (%s)",
		record.SessionID,
		record.Player1Name, record.Player1Score,
		record.Player2Name, record.Player2Score,
		record.TotalQuestions,
		record.CompletedAt.Format("2006-01-02"))
}

func logSnapshot(snap game.Snapshot) {
	switch {
	case snap.Question != nil:
		log.Printf("client: session %s question %d/%d (%s)", snap.SessionID, snap.Question.Number, snap.Question.Total, snap.Round)
	case snap.Result != nil:
		log.Printf("client: session %s completed %d + %d of %d", snap.SessionID, snap.Result.Player1Score, snap.Result.Player2Score, snap.Result.TotalQuestions)
	default:
		log.Printf("client: session %q %s", snap.SessionID, snap.Status)
	}
}

func archiveSession(store storage.Store, snap game.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Results may be re-announced after a reconnect; the first archive stands.
	if _, err := store.GetSession(ctx, snap.SessionID); err == nil {
		log.Printf("client: session %s already archived", snap.SessionID)
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("client: check archived session %s: %v", snap.SessionID, err)
		return
	}

	record := storage.SessionRecord{
		SessionID:      snap.SessionID,
		Player1Name:    snap.Result.Player1Name,
		Player1Score:   snap.Result.Player1Score,
		Player2Name:    snap.Result.Player2Name,
		Player2Score:   snap.Result.Player2Score,
		TotalQuestions: snap.Result.TotalQuestions,
		Message:        snap.Result.Message,
		CompletedAt:    time.Now(),
	}
	if err := store.SaveSession(ctx, record); err != nil {
		log.Printf("client: archive session %s: %v", snap.SessionID, err)
	}
}
