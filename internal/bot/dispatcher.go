// Package bot implements the conversation state machine: every inbound
// message or callback is interpreted according to the caller's pending
// action, transitions it, and produces at most one outbound message.
package bot

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"eventsbot/internal/booking"
	"eventsbot/internal/data"
	"eventsbot/internal/store"
)

const (
	callbackSignup = "signup"
	callbackEdit   = "edit"
)

// Sender is the slice of the Telegram API the dispatcher needs.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	AnswerCallbackQuery(config tgbotapi.CallbackConfig) (tgbotapi.APIResponse, error)
	LeaveChat(config tgbotapi.ChatConfig) (tgbotapi.APIResponse, error)
}

// Dispatcher routes inbound updates through the per-user state machine.
type Dispatcher struct {
	bot     Sender
	users   *data.Users
	events  *data.Events
	tickets *data.Tickets
	engine  *booking.Engine
	log     *logrus.Logger
	now     func() time.Time
}

func NewDispatcher(bot Sender, db *sql.DB, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		bot:     bot,
		users:   data.NewUsers(db),
		events:  data.NewEvents(db),
		tickets: data.NewTickets(db),
		engine:  booking.NewEngine(db),
		log:     log,
		now:     time.Now,
	}
}

// HandleMessage processes one inbound message: commands, free text for
// the pending action, or the unsupported-content reply.
func (d *Dispatcher) HandleMessage(msg *tgbotapi.Message) {
	if !d.ensurePrivate(msg) {
		return
	}

	user, err := d.resolveUser(int64(msg.From.ID))
	if err != nil {
		d.log.WithError(err).Error("resolve user")
		return
	}

	if msg.IsCommand() {
		d.handleCommand(user, msg)
		return
	}
	if msg.Text == "" {
		d.reply(msg, msgUnsupportedType)
		return
	}
	d.handleText(user, msg)
}

// ensurePrivate rejects non-private chats before any state logic runs.
func (d *Dispatcher) ensurePrivate(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}
	d.reply(msg, msgOnlyPrivateChats)
	if _, err := d.bot.LeaveChat(tgbotapi.ChatConfig{ChatID: msg.Chat.ID}); err != nil {
		d.log.WithError(err).Error("leave chat")
	}
	d.log.WithField("chat_id", msg.Chat.ID).Debug("left non-private chat")
	return false
}

// resolveUser loads the caller, creating the row lazily on first
// contact with default permissions.
func (d *Dispatcher) resolveUser(telegramID int64) (*data.User, error) {
	user, err := d.users.GetByTelegramID(telegramID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = d.users.New()
		user.SetTelegramID(telegramID)
		if err := user.Write(); err != nil {
			return nil, err
		}
		d.log.WithField("telegram_id", telegramID).Info("new user")
	}
	return user, nil
}

// allowed enforces the handler's minimum permission level.
func (d *Dispatcher) allowed(user *data.User, msg *tgbotapi.Message, level data.PermissionsLevel) bool {
	if user.PermissionsLevel() < level {
		d.log.WithField("telegram_id", user.TelegramID()).Debug("no permissions")
		d.reply(msg, msgNoPermissions)
		return false
	}
	return true
}

func (d *Dispatcher) handleCommand(user *data.User, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		if !d.allowed(user, msg, data.RegularUser) {
			return
		}
		user.SetAction(data.Idle)
		if err := user.Write(); err != nil {
			d.log.WithError(err).Error("write user")
			return
		}
		d.reply(msg, msgWelcome(user.PermissionsLevel() >= data.Admin))

	case "events":
		if !d.allowed(user, msg, data.RegularUser) {
			return
		}
		d.sendEventList(user, msg, true)

	case "allevents":
		if !d.allowed(user, msg, data.Admin) {
			return
		}
		d.sendEventList(user, msg, false)

	case "tickets":
		if !d.allowed(user, msg, data.RegularUser) {
			return
		}
		d.sendTicketList(user, msg)

	case "newevent":
		if !d.allowed(user, msg, data.Admin) {
			return
		}
		user.SetAction(data.EnterNewEventParams)
		if err := user.Write(); err != nil {
			d.log.WithError(err).Error("write user")
			return
		}
		d.reply(msg, msgNewEventStart())

	default:
		d.reply(msg, msgNotRecognized)
	}
}

func (d *Dispatcher) sendEventList(user *data.User, msg *tgbotapi.Message, availableOnly bool) {
	user.SetAction(data.SelectEvent)
	if err := user.Write(); err != nil {
		d.log.WithError(err).Error("write user")
		return
	}

	infos, err := d.events.ListInfo(availableOnly, d.now())
	if err != nil {
		d.log.WithError(err).Error("list events")
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, msgEventsList(infos))
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyToMessageID = msg.MessageID
	if len(infos) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(infos))
		for _, info := range infos {
			label := info.Datetime.Format(dtLayout) + ": " + info.Name
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(label, info.ID)))
		}
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	d.send(reply)
}

func (d *Dispatcher) sendTicketList(user *data.User, msg *tgbotapi.Message) {
	infos, err := d.tickets.ListForUser(user.ID(), d.now())
	if err != nil {
		d.log.WithError(err).Error("list tickets")
		return
	}
	if len(infos) == 0 {
		d.reply(msg, msgNoTickets)
		return
	}

	user.SetAction(data.SelectTicket)
	if err := user.Write(); err != nil {
		d.log.WithError(err).Error("write user")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(infos))
	for _, info := range infos {
		label := info.EventDatetime.Format(dtLayout) + " " + info.EventName +
			": " + strconv.FormatInt(info.Members, 10) + " мест"
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, info.ID)))
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, msgTicketsListTitle)
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyToMessageID = msg.MessageID
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	d.send(reply)
}

func (d *Dispatcher) handleText(user *data.User, msg *tgbotapi.Message) {
	if !d.allowed(user, msg, data.RegularUser) {
		return
	}

	switch user.Action() {
	case data.EnterNewEventParams, data.EnterEventParams:
		d.handleEventParams(user, msg)
	case data.EnterEventDescription:
		d.handleEventDescription(user, msg)
	case data.EnterTicketMembers:
		d.handleTicketMembers(user, msg)
	default:
		d.reply(msg, msgNotRecognized)
	}
}

func (d *Dispatcher) handleEventParams(user *data.User, msg *tgbotapi.Message) {
	var event *data.Event
	editing := user.Action() == data.EnterEventParams
	if editing {
		var err error
		event, err = d.events.Get(user.ActionData())
		if err != nil {
			d.log.WithError(err).Error("get event")
			return
		}
		if event == nil {
			d.reply(msg, msgUnknownEvent)
			return
		}
	} else {
		event = d.events.New()
	}

	oldDescription := event.Description()

	if err := applyEventText(event, msg.Text); err != nil {
		d.log.WithError(err).Debug("malformed event input")
		d.reply(msg, msgNotRecognized)
		return
	}
	if err := event.Write(); err != nil {
		d.log.WithError(err).Error("write event")
		return
	}

	if editing {
		d.reply(msg, msgEnterEditedEventDescription(oldDescription))
	} else {
		d.reply(msg, msgEnterNewEventDescription())
	}

	user.SetAction(data.EnterEventDescription)
	user.SetActionData(event.ID())
	if err := user.Write(); err != nil {
		d.log.WithError(err).Error("write user")
	}
}

// applyEventText parses the multi-line event input: name, datetime,
// optional location, optional max members. The description is always
// reset.
func applyEventText(event *data.Event, text string) error {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return errors.New("necessary params name and datetime are not defined")
	}

	datetime, err := time.Parse(dtLayout, lines[1])
	if err != nil {
		return errors.Wrap(err, "parse datetime")
	}

	location := ""
	if len(lines) > 2 {
		location = lines[2]
	}

	var maxMembers int64
	if len(lines) > 3 {
		maxMembers, err = strconv.ParseInt(strings.TrimSpace(lines[3]), 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse max members")
		}
	}

	event.SetName(lines[0])
	event.SetDatetime(datetime)
	event.SetLocation(location)
	event.SetMaxMembers(maxMembers)
	event.SetDescription("")
	return nil
}

func (d *Dispatcher) handleEventDescription(user *data.User, msg *tgbotapi.Message) {
	event, err := d.events.Get(user.ActionData())
	if err != nil {
		d.log.WithError(err).Error("get event")
		return
	}
	if event == nil {
		d.reply(msg, msgUnknownEvent)
		return
	}

	event.SetDescription(msg.Text)
	if err := event.Write(); err != nil {
		d.log.WithError(err).Error("write event")
		return
	}

	user.SetAction(data.Idle)
	if err := user.Write(); err != nil {
		d.log.WithError(err).Error("write user")
		return
	}
	d.reply(msg, msgDescriptionSaved)
}

func (d *Dispatcher) handleTicketMembers(user *data.User, msg *tgbotapi.Message) {
	members, err := strconv.ParseInt(strings.TrimSpace(msg.Text), 10, 64)
	if err != nil || members < 0 {
		d.reply(msg, msgMembersMustBeInt)
		return
	}

	outcome, err := d.engine.Book(user, user.ActionData(), members)
	if errors.Is(err, store.ErrNotFound) {
		d.reply(msg, msgUnknownEvent)
		return
	}
	if err != nil {
		d.log.WithError(err).Error("book")
		return
	}
	if outcome.Rejected {
		d.reply(msg, msgTooManyMembers(outcome.AvailablePlaces))
		return
	}

	d.log.WithFields(logrus.Fields{
		"telegram_id": user.TelegramID(),
		"event_id":    outcome.Event.ID(),
		"members":     members,
	}).Info("booked")

	d.sendTicketQR(msg.Chat.ID, user, outcome.Ticket, outcome.Event)
}

// HandleCallback processes one inline-keyboard press according to the
// caller's pending action.
func (d *Dispatcher) HandleCallback(cq *tgbotapi.CallbackQuery) {
	user, err := d.users.GetByTelegramID(int64(cq.From.ID))
	if err != nil {
		d.log.WithError(err).Error("resolve user")
		return
	}
	if user == nil {
		d.answerCallback(cq.ID, msgUnknownUser)
		return
	}

	switch user.Action() {
	case data.SelectEvent, data.SelectActionOnEvent:
		d.handleEventCallback(user, cq)
	case data.SelectTicket:
		d.handleTicketCallback(user, cq)
	default:
		d.answerCallback(cq.ID, msgNotRecognized)
	}
}

func (d *Dispatcher) handleEventCallback(user *data.User, cq *tgbotapi.CallbackQuery) {
	// While an action on the event is pending, the event id rides in
	// the action payload and the callback data carries the choice.
	eventID := cq.Data
	if user.Action() == data.SelectActionOnEvent {
		eventID = user.ActionData()
	}

	event, err := d.events.Get(eventID)
	if err != nil {
		d.log.WithError(err).Error("get event")
		return
	}
	if event == nil {
		d.answerCallback(cq.ID, msgUnknownEvent)
		return
	}

	if user.Action() == data.SelectEvent {
		d.answerCallback(cq.ID, "")

		rows := [][]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Записаться", callbackSignup)),
		}
		if user.PermissionsLevel() >= data.Admin {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Редактировать", callbackEdit)))
		}

		user.SetAction(data.SelectActionOnEvent)
		user.SetActionData(event.ID())
		if err := user.Write(); err != nil {
			d.log.WithError(err).Error("write user")
			return
		}

		reply := tgbotapi.NewMessage(cq.Message.Chat.ID, msgFullEventInfo(event))
		reply.ParseMode = tgbotapi.ModeMarkdown
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		d.send(reply)
		return
	}

	switch cq.Data {
	case callbackSignup:
		d.answerCallback(cq.ID, "")
		user.SetAction(data.EnterTicketMembers)
		user.SetActionData(event.ID())
		if err := user.Write(); err != nil {
			d.log.WithError(err).Error("write user")
			return
		}
		d.send(tgbotapi.NewMessage(cq.Message.Chat.ID, msgEnterMembers))

	case callbackEdit:
		if user.PermissionsLevel() < data.Admin {
			d.answerCallback(cq.ID, "")
			d.send(tgbotapi.NewMessage(cq.Message.Chat.ID, msgNoPermissions))
			return
		}
		d.answerCallback(cq.ID, "")
		user.SetAction(data.EnterEventParams)
		user.SetActionData(event.ID())
		if err := user.Write(); err != nil {
			d.log.WithError(err).Error("write user")
			return
		}
		reply := tgbotapi.NewMessage(cq.Message.Chat.ID, msgEditEventStart())
		reply.ParseMode = tgbotapi.ModeMarkdown
		d.send(reply)

	default:
		d.answerCallback(cq.ID, msgNotRecognized)
	}
}

func (d *Dispatcher) handleTicketCallback(user *data.User, cq *tgbotapi.CallbackQuery) {
	ticket, err := d.tickets.Get(cq.Data)
	if err != nil {
		d.log.WithError(err).Error("get ticket")
		return
	}
	if ticket == nil {
		d.answerCallback(cq.ID, msgUnknownTicket)
		return
	}

	event, err := ticket.Event()
	if err != nil {
		d.log.WithError(err).Error("get ticket event")
		return
	}
	if event == nil {
		d.answerCallback(cq.ID, msgUnknownEvent)
		return
	}

	d.answerCallback(cq.ID, "")
	d.sendTicketQR(cq.Message.Chat.ID, user, ticket, event)
}

// sendTicketQR renders the ticket token as a QR photo and resets the
// user to idle.
func (d *Dispatcher) sendTicketQR(chatID int64, user *data.User, ticket *data.Ticket, event *data.Event) {
	png, err := qrcode.Encode(TicketToken(ticket, event), qrcode.Medium, 256)
	if err != nil {
		d.log.WithError(err).Error("encode qr")
		return
	}

	photo := tgbotapi.NewPhotoUpload(chatID, tgbotapi.FileBytes{Name: "ticket.png", Bytes: png})
	photo.Caption = msgTicketCaption(event, ticket.Members())
	d.send(photo)

	user.SetAction(data.Idle)
	if err := user.Write(); err != nil {
		d.log.WithError(err).Error("write user")
	}
}

func (d *Dispatcher) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyToMessageID = msg.MessageID
	d.send(reply)
}

func (d *Dispatcher) send(c tgbotapi.Chattable) {
	if _, err := d.bot.Send(c); err != nil {
		d.log.WithError(err).Error("send message")
	}
}

func (d *Dispatcher) answerCallback(id, text string) {
	if _, err := d.bot.AnswerCallbackQuery(tgbotapi.NewCallback(id, text)); err != nil {
		d.log.WithError(err).Error("answer callback")
	}
}
