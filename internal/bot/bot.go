package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autopost_bot/internal/config"
	"autopost_bot/internal/fetcher"
	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
	"autopost_bot/internal/scheduler"
	"autopost_bot/internal/session"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Scheduler controls auto-posting timers.
type Scheduler interface {
	Start(destID int64) error
	Stop(destID int64) bool
	ListScheduled(destID int64) []scheduler.JobInfo
}

// Dispatcher posts items on demand.
type Dispatcher interface {
	PostLatest(ctx context.Context, destID int64, filters *model.FilterSet) (model.Item, error)
	PostSpecific(ctx context.Context, destID, itemID int64) (model.Item, error)
}

// Deps are the services the command layer drives.
type Deps struct {
	Prefs      *prefs.Store
	Scheduler  Scheduler
	Dispatcher Dispatcher
	Sessions   *session.Store
	// Terms is nil when the source cannot enumerate categories and tags.
	Terms fetcher.TermLister
}

// Bot is the Telegram command layer.
type Bot struct {
	api      API
	cfg      *config.Config
	prefs    *prefs.Store
	sched    Scheduler
	dispatch Dispatcher
	sessions *session.Store
	terms    fetcher.TermLister
	log      *slog.Logger
}

// New creates a Bot.
func New(api API, cfg *config.Config, deps Deps, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		prefs:    deps.Prefs,
		sched:    deps.Scheduler,
		dispatch: deps.Dispatcher,
		sessions: deps.Sessions,
		terms:    deps.Terms,
		log:      log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || update.Message.From == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		b.log.Error("telegram request", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(chatID)
	case cmdAutopostOn:
		b.handleAutopostOn(chatID)
	case cmdAutopostOff:
		b.handleAutopostOff(chatID)
	case "latest":
		b.handleLatest(ctx, chatID)
	case "post":
		b.handlePost(ctx, chatID, args)
	case "categories":
		b.handleSelect(ctx, chatID, msg.From.ID, model.TermCategory)
	case "tags":
		b.handleSelect(ctx, chatID, msg.From.ID, model.TermTag)
	case "filters":
		b.handleFilters(chatID, args)
	case "clearfilters":
		b.handleClearFilters(chatID)
	case "reset":
		b.handleReset(chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
