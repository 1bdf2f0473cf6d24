// ABOUTME: Entry point for the palaver message engine CLI
// ABOUTME: Local commands for inspecting and maintaining the engine database

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/palaver-im/palaver/internal/archive"
	"github.com/palaver-im/palaver/internal/config"
	"github.com/palaver-im/palaver/internal/conversation"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/identity"
	"github.com/palaver-im/palaver/internal/shield"
	"github.com/palaver-im/palaver/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _
 _ __   __ _| | __ ___   _____ _ __
| '_ \ / _' | |/ _' \ \ / / _ \ '__|
| |_) | (_| | | (_| |\ V /  __/ |
| .__/ \__,_|_|\__,_| \_/ \___|_|
|_|
`

// getConfigPath returns the path to the engine config file.
// Priority: PALAVER_CONFIG env var > XDG_CONFIG_HOME/palaver/engine.yaml > ~/.config/palaver/engine.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PALAVER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "engine.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "palaver", "engine.yaml")
}

// getDataPath returns the path to the palaver data directory.
// Priority: XDG_DATA_HOME/palaver > ~/.local/share/palaver
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "palaver")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: palaver <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                Create a new config file interactively")
		fmt.Println("  conversations       List conversations with unread counts")
		fmt.Println("  messages <id>       Show recent messages of a conversation")
		fmt.Println("  read <id>           Mark a conversation as read")
		fmt.Println("  sweep               Delete messages older than burn.max_age")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "conversations":
		err = runConversations(ctx)
	case "messages":
		err = runMessages(ctx)
	case "read":
		err = runRead(ctx)
	case "sweep":
		err = runSweep(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engine bundles the wired-up service stack for CLI commands.
type engine struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	bus     *events.Bus
	archive *archive.Archive
	service *conversation.Service
}

func (e *engine) close() {
	e.bus.Close()
	e.store.Close()
}

func openEngine() (*engine, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	bus := events.NewBus(logger)
	arc := archive.New(st, bus, logger, cfg.Cache.TTL, cfg.Cache.Refresh)
	book := identity.NewBook(arc, logger)
	sh := shield.New(arc, cfg.User.ID, logger)
	svc := conversation.NewService(arc, sh, book, cfg.User.ID, logger)

	return &engine{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		archive: arc,
		service: svc,
	}, nil
}

func runConversations(ctx context.Context) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	conversations, err := e.service.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(conversations) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	yellow := color.New(color.FgYellow)
	for _, c := range conversations {
		when := ""
		if !c.LastTime.IsZero() {
			when = c.LastTime.Local().Format("Jan 02 15:04")
		}
		fmt.Printf("  %-30s", c.ID.String())
		if c.Unread > 0 {
			yellow.Printf(" [%d]", c.Unread)
		}
		if c.MentionSN > 0 {
			yellow.Print(" @")
		}
		gray.Printf("  %s  %s\n", when, c.Preview)
	}
	return nil
}

func runMessages(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: palaver messages <conversation id>")
	}
	cid, err := entity.ParseID(os.Args[2])
	if err != nil {
		return fmt.Errorf("parsing conversation id: %w", err)
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	msgs, err := e.service.ListMessages(ctx, cid, 50)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	for _, row := range msgs {
		msg, err := entity.DecodeMessage(row.Payload)
		if err != nil {
			gray.Printf("  %s sn=%d (undecodable: %v)\n", row.Sender.String(), row.SN, err)
			continue
		}
		text := "[non-text message]"
		if tc, ok := msg.Content.(*entity.TextContent); ok {
			text = tc.Text
		}
		gray.Printf("  %s  ", row.Time.Local().Format("Jan 02 15:04"))
		fmt.Printf("%s: %s\n", row.Sender.Name, text)
	}
	return nil
}

func runRead(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: palaver read <conversation id>")
	}
	cid, err := entity.ParseID(os.Args[2])
	if err != nil {
		return fmt.Errorf("parsing conversation id: %w", err)
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.service.MarkRead(ctx, cid); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Marked read: %s\n", cid.String())
	return nil
}

func runSweep(ctx context.Context) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.Burn.MaxAge <= 0 {
		return fmt.Errorf("burn.max_age is not configured")
	}
	cutoff := time.Now().Add(-e.cfg.Burn.MaxAge)
	deleted, err := e.archive.SweepMessagesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ Swept %d message(s) older than %s\n",
		deleted, e.cfg.Burn.MaxAge)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs.
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("palaver configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "engine.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- User Configuration ---")
	userID := prompt(reader, "Local user id", "")
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := entity.ParseID(userID); err != nil {
		return fmt.Errorf("parsing user id: %w", err)
	}

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Cache Configuration ---")
	cacheTTL := prompt(reader, "Cache TTL", "5m")
	cacheRefresh := prompt(reader, "Cache refresh grace", "30s")

	fmt.Println("\n--- Burn Configuration ---")
	burnMaxAge := prompt(reader, "Max message age (empty to disable sweep)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# palaver configuration\n")
	cfg.WriteString("# Generated by palaver init\n\n")

	cfg.WriteString("user:\n")
	cfg.WriteString(fmt.Sprintf("  id: \"%s\"\n", userID))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString(fmt.Sprintf("  ttl: \"%s\"\n", cacheTTL))
	cfg.WriteString(fmt.Sprintf("  refresh: \"%s\"\n", cacheRefresh))
	cfg.WriteString("\n")

	if burnMaxAge != "" {
		cfg.WriteString("burn:\n")
		cfg.WriteString(fmt.Sprintf("  max_age: \"%s\"\n", burnMaxAge))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo list conversations:")
	fmt.Printf("  palaver conversations\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
