package main

import (
	"database/sql"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"eventsbot/internal/bot"
	"eventsbot/internal/data"
)

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

// provisionAdmins upserts every configured Telegram id as an admin.
func provisionAdmins(db *sql.DB, ids []int64) error {
	users := data.NewUsers(db)
	for _, id := range ids {
		user, err := users.GetByTelegramID(id)
		if err != nil {
			return err
		}
		if user == nil {
			user = users.New()
			user.SetTelegramID(id)
		}
		if err := user.SetPermissionsLevel(data.Admin); err != nil {
			return err
		}
		if err := user.Write(); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}

	log := newLogger(cfg.LogLevel)

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := data.InitSchema(db); err != nil {
		log.Fatal(err)
	}

	if err := provisionAdmins(db, cfg.AdminUsers); err != nil {
		log.Fatal(err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("authorized on account %s", api.Self.UserName)

	dispatcher := bot.NewDispatcher(api, db, log)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := api.GetUpdatesChan(u)
	if err != nil {
		log.Fatal(err)
	}

	// Handlers run to completion one at a time; the booking engine
	// still serializes per event so a parallel dispatcher stays safe.
	for update := range updates {
		if update.CallbackQuery != nil {
			dispatcher.HandleCallback(update.CallbackQuery)
			continue
		}
		if update.Message != nil {
			dispatcher.HandleMessage(update.Message)
		}
	}
}
