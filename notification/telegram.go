// Package notification delivers order events and errors out of band
package notification

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/raykavin/traderun/order"
	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// Settings holds the telegram bot credentials and the authorized user ids
type Settings struct {
	Token string
	Users []int64
}

// Reporter exposes run state for chat commands
type Reporter interface {
	Instruments() []string
	SummaryFor(instrument string) *order.TradeSummary
	HasPending(instrument string) bool
}

// Telegram implements core.NotifierWithStart over a telegram bot
type Telegram struct {
	settings    Settings
	reporter    Reporter
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         logger.Logger
}

// NewTelegram creates and initializes a telegram notifier
func NewTelegram(reporter Reporter, settings Settings, log logger.Logger) (core.NotifierWithStart, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	userMiddleware := newAuthMiddleware(poller, settings, log)

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		settings:    settings,
		reporter:    reporter,
		defaultMenu: menu,
		client:      client,
		log:         log,
	}

	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/profit", bot.ProfitHandle)

	return bot, nil
}

// newAuthMiddleware creates a middleware to validate authorized users
func newAuthMiddleware(poller *tb.LongPoller, settings Settings, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(settings.Users, u.Message.Sender.ID) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn = menu.Text("/status")
		profitBtn = menu.Text("/profit")
		helpBtn   = menu.Text("/help")
	)

	menu.Reply(
		menu.Row(statusBtn, profitBtn, helpBtn),
	)
}

func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Pending orders per instrument"},
		{Text: "/profit", Description: "Summary of closed trade results"},
	})
}

// Start begins the telegram receive loop and greets the authorized users
func (t *Telegram) Start() {
	go t.client.Start()
	t.sendMessageWithOptions("Engine initialized.", t.defaultMenu)
}

// Notify sends a message to all authorized users
func (t *Telegram) Notify(text string) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: user}, text)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

func (t *Telegram) sendMessageWithOptions(text string, options ...any) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: user}, text, options...)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification with options")
		}
	}
}

func (t *Telegram) sendMessage(to *tb.User, text string, options ...any) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// HelpHandle displays available commands
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		t.OnError(err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle reports pending orders per instrument
func (t *Telegram) StatusHandle(m *tb.Message) {
	lines := make([]string, 0)
	for _, instrument := range t.reporter.Instruments() {
		state := "idle"
		if t.reporter.HasPending(instrument) {
			state = "pending orders"
		}
		lines = append(lines, fmt.Sprintf("`%s`: %s", instrument, state))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// ProfitHandle shows closed trade results per instrument
func (t *Telegram) ProfitHandle(m *tb.Message) {
	sent := false
	for _, instrument := range t.reporter.Instruments() {
		summary := t.reporter.SummaryFor(instrument)
		if summary == nil || len(summary.Win())+len(summary.Lose()) == 0 {
			continue
		}
		sent = true
		t.sendMessage(m.Sender, fmt.Sprintf("*INSTRUMENT*: `%s`\n`%s`", instrument, summary.String()))
	}

	if !sent {
		t.sendMessage(m.Sender, "No trades registered.")
	}
}

// OnOrder notifies users about order status changes
func (t *Telegram) OnOrder(ord core.Order) {
	title := orderStatusTitle(ord)
	message := fmt.Sprintf("%s\n-----\n%s", title, ord)
	t.Notify(message)
}

func orderStatusTitle(ord core.Order) string {
	switch ord.Status {
	case core.OrderStatusTypeFilled:
		return fmt.Sprintf("✅ ORDER FILLED - %s", ord.Instrument)
	case core.OrderStatusTypeCreated, core.OrderStatusTypeSubmitted:
		return fmt.Sprintf("🆕 NEW ORDER - %s", ord.Instrument)
	case core.OrderStatusTypeCanceled, core.OrderStatusTypeRejected:
		return fmt.Sprintf("❌ ORDER CANCELED / REJECTED - %s", ord.Instrument)
	default:
		return fmt.Sprintf("ORDER UPDATE - %s", ord.Instrument)
	}
}

// OnError notifies users about errors
func (t *Telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n")

	var venueError *core.VenueError
	if errors.As(err, &venueError) {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "Venue call: %s\n", venueError.Op)
		sb.WriteString("-----\n")
		sb.WriteString(venueError.Err.Error())
		t.Notify(sb.String())
		return
	}

	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}
