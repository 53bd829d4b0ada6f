package bot

import (
	"fmt"
	"strconv"

	"eventsbot/internal/data"
)

// dtLayout is the datetime format shown to users and expected in event
// text input (dd.MM.yyyy HH:mm).
const dtLayout = "02.01.2006 15:04"

const (
	msgEnterHelp        = "Введите /help для получения информации."
	msgUnsupportedType  = "Такие сообщения не поддерживаются.\n" + msgEnterHelp
	msgOnlyPrivateChats = "Я работаю только в приватных чатах."
	msgNoPermissions    = "Недостаточно прав для этого действия."
	msgNotRecognized    = "Я вас не понимаю.\n" + msgEnterHelp
	msgDescriptionSaved = "Описание сохранено."
	msgUnknownUser      = "Не удалось получить пользователя, попробуйте ввести /help"
	msgUnknownEvent     = "Не удалось получить информацию о выбранном событии."
	msgUnknownTicket    = "Не удалось получить информацию о выбранном билете."
	msgEnterMembers     = "Введите кол-во мест."
	msgNoTickets        = "У вас нет билетов."
	msgTicketsListTitle = "*Ваши билеты.*\nНажмите на кнопку, чтобы запросить qr-код."
	msgMembersMustBeInt = "Количество мест должно задаваться целым числом."
)

func msgWelcome(isAdmin bool) string {
	adminCommands := ""
	if isAdmin {
		adminCommands = "\n" +
			"*Команды администратора:*\n" +
			"/newevent - создать новое мероприятие\n" +
			"/allevents - список всех мероприятий"
	}

	return "Я могу записать тебя на мероприятия.\n" +
		"\n" +
		"*Команды:*\n" +
		"/events - список доступных мероприятий\n" +
		"/tickets - список ваших билетов на мероприятия" + adminCommands
}

func msgEventsList(events []data.EventInfo) string {
	if len(events) == 0 {
		return "Нет доступных мероприятий."
	}

	result := "*Мероприятия:*\n"
	for _, event := range events {
		availablePlaces := "без ограничения на кол-во участников"
		if event.MaxMembers != 0 {
			availablePlaces = fmt.Sprintf("мест: %d/%d", event.AvailablePlaces, event.MaxMembers)
		}

		result += fmt.Sprintf("`%s`: *%s*: %s: %s\n",
			event.Datetime.Format(dtLayout), event.Name, event.Location, availablePlaces)
	}
	result += "Для получения подробной информации нажмите на кнопку ниже."

	return result
}

func msgEventFields() string {
	return "Название мероприятия\n" +
		"Дату и время в формате `dd.MM.yyyy HH:mm`\n" +
		"Место проведения мероприятия\n" +
		"Максимальное количество участников, 0 - не ограничено\n" +
		"\n" +
		"Пример:\n" +
		"```\n" +
		"IT-конференция\n" +
		"29.07.2021 13:00\n" +
		"Образовательный центр \"Сириус\"\n" +
		"0```"
}

func msgEventActionStart(action string) string {
	return fmt.Sprintf("Для %s мероприятия введите в одном сообщении *на отдельных строках*:\n%s",
		action, msgEventFields())
}

func msgNewEventStart() string {
	return msgEventActionStart("создания нового")
}

func msgEditEventStart() string {
	return msgEventActionStart("редактирования")
}

func msgEnterNewEventDescription() string {
	return "Мероприятие создано.\nТеперь введите описание мероприятия."
}

func msgEnterEditedEventDescription(oldDescription string) string {
	return fmt.Sprintf("Мероприятие изменено (старое описание было удалено).\n"+
		"Теперь введите описание мероприятия.\n"+
		"Старое описание: ```\n%s```", oldDescription)
}

func msgFullEventInfo(event *data.Event) string {
	maxMembers := "не ограничено"
	if event.MaxMembers() != 0 {
		maxMembers = strconv.FormatInt(event.MaxMembers(), 10)
	}

	return fmt.Sprintf("*%s* %s\nМесто проведения: %s\nМаксимальное кол-во участников: %s\n%s",
		event.Name(), event.Datetime().Format(dtLayout), event.Location(), maxMembers,
		event.Description())
}

func msgTicketCaption(event *data.Event, members int64) string {
	return fmt.Sprintf("%s %s: %d мест", event.Datetime().Format(dtLayout), event.Name(), members)
}

func msgTooManyMembers(available int64) string {
	return fmt.Sprintf("Указано слишком большое кол-во участников, максимальное: %d", available)
}
