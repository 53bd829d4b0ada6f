package bot

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"eventsbot/internal/data"
)

var testNow = time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	messages  []tgbotapi.MessageConfig
	photos    []tgbotapi.PhotoConfig
	callbacks []tgbotapi.CallbackConfig
	left      []int64
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		f.messages = append(f.messages, v)
	case tgbotapi.PhotoConfig:
		f.photos = append(f.photos, v)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) AnswerCallbackQuery(c tgbotapi.CallbackConfig) (tgbotapi.APIResponse, error) {
	f.callbacks = append(f.callbacks, c)
	return tgbotapi.APIResponse{}, nil
}

func (f *fakeSender) LeaveChat(c tgbotapi.ChatConfig) (tgbotapi.APIResponse, error) {
	f.left = append(f.left, c.ChatID)
	return tgbotapi.APIResponse{}, nil
}

func (f *fakeSender) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

func (f *fakeSender) lastCallback(t *testing.T) tgbotapi.CallbackConfig {
	t.Helper()
	require.NotEmpty(t, f.callbacks)
	return f.callbacks[len(f.callbacks)-1]
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeSender, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every new connection gets its own in-memory database, so keep
	// the pool at a single connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, data.InitSchema(db))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	sender := &fakeSender{}
	d := NewDispatcher(sender, db, log)
	d.now = func() time.Time { return testNow }
	return d, sender, db
}

func commandMessage(telegramID int64, text string) *tgbotapi.Message {
	command := strings.SplitN(text, " ", 2)[0]
	entities := []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	msg := textMessage(telegramID, text)
	msg.Entities = &entities
	return msg
}

func textMessage(telegramID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: int(telegramID)},
		Chat:      &tgbotapi.Chat{ID: telegramID, Type: "private"},
		Text:      text,
	}
}

func callbackQuery(telegramID int64, payload string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: int(telegramID)},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: telegramID, Type: "private"}},
		Data:    payload,
	}
}

func seedUser(t *testing.T, db *sql.DB, telegramID int64, level data.PermissionsLevel) *data.User {
	t.Helper()
	user := data.NewUsers(db).New()
	user.SetTelegramID(telegramID)
	require.NoError(t, user.SetPermissionsLevel(level))
	require.NoError(t, user.Write())
	return user
}

func seedEvent(t *testing.T, db *sql.DB, name string, datetime time.Time, maxMembers int64) *data.Event {
	t.Helper()
	event := data.NewEvents(db).New()
	event.SetName(name)
	event.SetDatetime(datetime)
	event.SetLocation("Hall")
	event.SetMaxMembers(maxMembers)
	require.NoError(t, event.Write())
	return event
}

func userState(t *testing.T, db *sql.DB, telegramID int64) *data.User {
	t.Helper()
	user, err := data.NewUsers(db).GetByTelegramID(telegramID)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestStartCreatesUserAndResetsState(t *testing.T) {
	d, sender, db := newTestDispatcher(t)

	d.HandleMessage(commandMessage(42, "/start"))

	user := userState(t, db, 42)
	require.Equal(t, data.RegularUser, user.PermissionsLevel())
	require.Equal(t, data.Idle, user.Action())
	require.Contains(t, sender.lastMessage(t).Text, "/events")
	require.NotContains(t, sender.lastMessage(t).Text, "/newevent")
}

func TestHelpForAdminListsAdminCommands(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.Admin)

	d.HandleMessage(commandMessage(42, "/help"))
	require.Contains(t, sender.lastMessage(t).Text, "/newevent")
}

func TestNonPrivateChatIsLeft(t *testing.T) {
	d, sender, db := newTestDispatcher(t)

	msg := commandMessage(42, "/start")
	msg.Chat.Type = "group"
	msg.Chat.ID = -100
	d.HandleMessage(msg)

	require.Equal(t, msgOnlyPrivateChats, sender.lastMessage(t).Text)
	require.Equal(t, []int64{-100}, sender.left)

	// No state logic ran: the user row was never created.
	user, err := data.NewUsers(db).GetByTelegramID(42)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestBannedUserIsDenied(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.Banned)

	d.HandleMessage(commandMessage(42, "/events"))
	require.Equal(t, msgNoPermissions, sender.lastMessage(t).Text)
	require.Equal(t, data.Idle, userState(t, db, 42).Action())
}

func TestAdminCommandDeniedForRegularUser(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.RegularUser)

	for _, command := range []string{"/newevent", "/allevents"} {
		d.HandleMessage(commandMessage(42, command))
		require.Equal(t, msgNoPermissions, sender.lastMessage(t).Text)
		require.Equal(t, data.Idle, userState(t, db, 42).Action())
	}
}

func TestUnknownCommandNotRecognized(t *testing.T) {
	d, sender, _ := newTestDispatcher(t)

	d.HandleMessage(commandMessage(42, "/frobnicate"))
	require.Equal(t, msgNotRecognized, sender.lastMessage(t).Text)
}

func TestUnsupportedContentType(t *testing.T) {
	d, sender, _ := newTestDispatcher(t)

	msg := textMessage(42, "")
	msg.Sticker = &tgbotapi.Sticker{}
	d.HandleMessage(msg)
	require.Equal(t, msgUnsupportedType, sender.lastMessage(t).Text)
}

func TestEventsListsAvailableWithKeyboard(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)
	seedEvent(t, db, "Gone", testNow.Add(-24*time.Hour), 10)

	d.HandleMessage(commandMessage(42, "/events"))

	require.Equal(t, data.SelectEvent, userState(t, db, 42).Action())

	reply := sender.lastMessage(t)
	require.Contains(t, reply.Text, "Conf")
	require.NotContains(t, reply.Text, "Gone")

	markup, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Equal(t, event.ID(), *markup.InlineKeyboard[0][0].CallbackData)
}

func TestAllEventsIncludesPastAndFull(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.Admin)
	seedEvent(t, db, "Gone", testNow.Add(-24*time.Hour), 10)

	d.HandleMessage(commandMessage(42, "/allevents"))

	require.Equal(t, data.SelectEvent, userState(t, db, 42).Action())
	require.Contains(t, sender.lastMessage(t).Text, "Gone")
}

func TestSignupFlowBooksTicket(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)

	d.HandleMessage(commandMessage(42, "/events"))
	d.HandleCallback(callbackQuery(42, event.ID()))

	user := userState(t, db, 42)
	require.Equal(t, data.SelectActionOnEvent, user.Action())
	require.Equal(t, event.ID(), user.ActionData())

	// The event card offers signup only to regular users.
	card := sender.lastMessage(t)
	require.Contains(t, card.Text, "Conf")
	markup := card.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Equal(t, callbackSignup, *markup.InlineKeyboard[0][0].CallbackData)

	d.HandleCallback(callbackQuery(42, callbackSignup))
	user = userState(t, db, 42)
	require.Equal(t, data.EnterTicketMembers, user.Action())
	require.Equal(t, event.ID(), user.ActionData())
	require.Equal(t, msgEnterMembers, sender.lastMessage(t).Text)

	d.HandleMessage(textMessage(42, "2"))

	user = userState(t, db, 42)
	require.Equal(t, data.Idle, user.Action())
	require.Empty(t, user.ActionData())

	require.Len(t, sender.photos, 1)
	require.Contains(t, sender.photos[0].Caption, "Conf")
	require.Contains(t, sender.photos[0].Caption, "2 мест")

	tickets, err := data.NewTickets(db).ListForUser(user.ID(), testNow)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, int64(2), tickets[0].Members)
}

func TestSignupRejectionKeepsState(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 2)

	owner := seedUser(t, db, 7, data.RegularUser)
	ticket := data.NewTickets(db).New()
	ticket.SetUser(owner)
	ticket.SetEvent(event)
	require.NoError(t, ticket.SetMembers(2))
	require.NoError(t, ticket.Write())

	user := seedUser(t, db, 42, data.RegularUser)
	user.SetAction(data.EnterTicketMembers)
	user.SetActionData(event.ID())
	require.NoError(t, user.Write())

	d.HandleMessage(textMessage(42, "1"))

	require.Equal(t, msgTooManyMembers(0), sender.lastMessage(t).Text)
	state := userState(t, db, 42)
	require.Equal(t, data.EnterTicketMembers, state.Action())
	require.Equal(t, event.ID(), state.ActionData())
	require.Empty(t, sender.photos)
}

func TestSignupMembersMustBeInteger(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)

	user := seedUser(t, db, 42, data.RegularUser)
	user.SetAction(data.EnterTicketMembers)
	user.SetActionData(event.ID())
	require.NoError(t, user.Write())

	for _, input := range []string{"три", "1.5", "-2"} {
		d.HandleMessage(textMessage(42, input))
		require.Equal(t, msgMembersMustBeInt, sender.lastMessage(t).Text)
		require.Equal(t, data.EnterTicketMembers, userState(t, db, 42).Action())
	}
}

func TestNewEventFlow(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.Admin)

	d.HandleMessage(commandMessage(42, "/newevent"))
	require.Equal(t, data.EnterNewEventParams, userState(t, db, 42).Action())
	require.Contains(t, sender.lastMessage(t).Text, "dd.MM.yyyy HH:mm")

	d.HandleMessage(textMessage(42, "IT-конференция\n29.07.2030 13:00\nСириус\n10"))

	user := userState(t, db, 42)
	require.Equal(t, data.EnterEventDescription, user.Action())
	require.NotEmpty(t, user.ActionData())

	event, err := data.NewEvents(db).Get(user.ActionData())
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, "IT-конференция", event.Name())
	require.Equal(t, "Сириус", event.Location())
	require.Equal(t, int64(10), event.MaxMembers())
	require.Empty(t, event.Description())

	expected, err := time.Parse(dtLayout, "29.07.2030 13:00")
	require.NoError(t, err)
	require.Equal(t, expected.Unix(), event.Datetime().Unix())

	d.HandleMessage(textMessage(42, "Отличное мероприятие"))

	require.Equal(t, msgDescriptionSaved, sender.lastMessage(t).Text)
	require.Equal(t, data.Idle, userState(t, db, 42).Action())

	event, err = data.NewEvents(db).Get(event.ID())
	require.NoError(t, err)
	require.Equal(t, "Отличное мероприятие", event.Description())
}

func TestNewEventDefaultsLocationAndMax(t *testing.T) {
	d, _, db := newTestDispatcher(t)
	admin := seedUser(t, db, 42, data.Admin)
	admin.SetAction(data.EnterNewEventParams)
	require.NoError(t, admin.Write())

	d.HandleMessage(textMessage(42, "Conf\n29.07.2030 13:00"))

	user := userState(t, db, 42)
	event, err := data.NewEvents(db).Get(user.ActionData())
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Empty(t, event.Location())
	require.Zero(t, event.MaxMembers())
}

func TestEventParamsMalformedKeepsState(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	admin := seedUser(t, db, 42, data.Admin)
	admin.SetAction(data.EnterNewEventParams)
	require.NoError(t, admin.Write())

	inputs := []string{
		"only one line",
		"Conf\nnot a date",
		"Conf\n29.07.2030 13:00\nHall\nten",
	}
	for _, input := range inputs {
		d.HandleMessage(textMessage(42, input))
		require.Equal(t, msgNotRecognized, sender.lastMessage(t).Text)
		require.Equal(t, data.EnterNewEventParams, userState(t, db, 42).Action())
	}
}

func TestEditFlowClearsDescription(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	seedUser(t, db, 42, data.Admin)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)
	event.SetDescription("старое описание")
	require.NoError(t, event.Write())

	d.HandleMessage(commandMessage(42, "/events"))
	d.HandleCallback(callbackQuery(42, event.ID()))

	// Admins get the edit button as a second row.
	markup := sender.lastMessage(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Equal(t, callbackEdit, *markup.InlineKeyboard[1][0].CallbackData)

	d.HandleCallback(callbackQuery(42, callbackEdit))
	require.Equal(t, data.EnterEventParams, userState(t, db, 42).Action())

	d.HandleMessage(textMessage(42, "Conf v2\n30.07.2030 14:00\nHall\n5"))

	require.Contains(t, sender.lastMessage(t).Text, "старое описание")
	require.Equal(t, data.EnterEventDescription, userState(t, db, 42).Action())

	updated, err := data.NewEvents(db).Get(event.ID())
	require.NoError(t, err)
	require.Equal(t, "Conf v2", updated.Name())
	require.Empty(t, updated.Description())
}

func TestEditDeniedForRegularUser(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)

	user := seedUser(t, db, 42, data.RegularUser)
	user.SetAction(data.SelectActionOnEvent)
	user.SetActionData(event.ID())
	require.NoError(t, user.Write())

	d.HandleCallback(callbackQuery(42, callbackEdit))

	require.Equal(t, msgNoPermissions, sender.lastMessage(t).Text)
	require.Equal(t, data.SelectActionOnEvent, userState(t, db, 42).Action())
}

func TestTicketsEmptyKeepsState(t *testing.T) {
	d, sender, db := newTestDispatcher(t)

	d.HandleMessage(commandMessage(42, "/tickets"))
	require.Equal(t, msgNoTickets, sender.lastMessage(t).Text)
	require.Equal(t, data.Idle, userState(t, db, 42).Action())
}

func TestTicketsListAndQR(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)
	user := seedUser(t, db, 42, data.RegularUser)

	ticket := data.NewTickets(db).New()
	ticket.SetUser(user)
	ticket.SetEvent(event)
	require.NoError(t, ticket.SetMembers(3))
	require.NoError(t, ticket.Write())

	d.HandleMessage(commandMessage(42, "/tickets"))

	require.Equal(t, data.SelectTicket, userState(t, db, 42).Action())
	markup := sender.lastMessage(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Equal(t, ticket.ID(), *markup.InlineKeyboard[0][0].CallbackData)

	d.HandleCallback(callbackQuery(42, ticket.ID()))

	require.Len(t, sender.photos, 1)
	require.Contains(t, sender.photos[0].Caption, "Conf")
	require.Equal(t, data.Idle, userState(t, db, 42).Action())
}

func TestCallbackFromUnknownUser(t *testing.T) {
	d, sender, _ := newTestDispatcher(t)

	d.HandleCallback(callbackQuery(42, "anything"))
	require.Equal(t, msgUnknownUser, sender.lastCallback(t).Text)
}

func TestCallbackUnknownEvent(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	user := seedUser(t, db, 42, data.RegularUser)
	user.SetAction(data.SelectEvent)
	require.NoError(t, user.Write())

	d.HandleCallback(callbackQuery(42, "missing"))

	require.Equal(t, msgUnknownEvent, sender.lastCallback(t).Text)
	require.Equal(t, data.SelectEvent, userState(t, db, 42).Action())
}

func TestCallbackUnknownTicket(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	user := seedUser(t, db, 42, data.RegularUser)
	user.SetAction(data.SelectTicket)
	require.NoError(t, user.Write())

	d.HandleCallback(callbackQuery(42, "missing"))

	require.Equal(t, msgUnknownTicket, sender.lastCallback(t).Text)
	require.Equal(t, data.SelectTicket, userState(t, db, 42).Action())
}

func TestUnmatchedInputNotRecognized(t *testing.T) {
	d, sender, db := newTestDispatcher(t)

	// Idle user, free text.
	d.HandleMessage(textMessage(42, "привет"))
	require.Equal(t, msgNotRecognized, sender.lastMessage(t).Text)
	require.Equal(t, data.Idle, userState(t, db, 42).Action())

	// Idle user, stray callback.
	d.HandleCallback(callbackQuery(42, "stale"))
	require.Equal(t, msgNotRecognized, sender.lastCallback(t).Text)
	require.Equal(t, data.Idle, userState(t, db, 42).Action())

	// Pending keyboard selection, unexpected choice payload.
	event := seedEvent(t, db, "Conf", testNow.Add(24*time.Hour), 10)
	user := userState(t, db, 42)
	user.SetAction(data.SelectActionOnEvent)
	user.SetActionData(event.ID())
	require.NoError(t, user.Write())

	d.HandleCallback(callbackQuery(42, "bogus"))
	require.Equal(t, msgNotRecognized, sender.lastCallback(t).Text)
	require.Equal(t, data.SelectActionOnEvent, userState(t, db, 42).Action())
}
