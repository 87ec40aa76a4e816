// Package telegram is the chat front end: a user sends a chest image and gets
// the findings text with the saliency overlay back.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	app "lung-vision/internal/application"
	"lung-vision/internal/domain/entity"
	"lung-vision/internal/visualize"
)

const (
	msgStart = `👋 Привет! Я бот для анализа снимков грудной клетки.

📸 Отправьте снимок, и я оценю вероятность классов: норма, доброкачественное или злокачественное образование.

📋 Команды:
/check — начать проверку снимка
/last — последний результат
/stats — статистика за сегодня
/help — справка
/cancel — отменить текущую операцию`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте /check
2️⃣ Пришлите снимок (фото или файл JPEG/PNG)
3️⃣ Вы получите результат: вероятности классов, описание и карту внимания модели

⚠️ Результат не является диагнозом. Обратитесь к врачу.

📋 Команды:
/check — начать проверку
/last — последний результат
/stats — статистика за сегодня
/cancel — отменить операцию`

	msgAwaitingPhoto   = "📸 Отправьте снимок грудной клетки для анализа."
	msgCancelled       = "❌ Операция отменена. Отправьте /check для новой проверки."
	msgSendPhoto       = "📸 Отправьте /check, а затем снимок для анализа."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing      = "⏳ Обрабатываю изображение..."
	msgBusy            = "⏳ Предыдущий снимок ещё обрабатывается."
	msgNoLast          = "ℹ️ У вас ещё нет проверок. Отправьте /check."
	msgBadImage        = "⚠️ Не удалось прочитать изображение. Пришлите JPEG или PNG."
	msgProcessingError = "⚠️ Не удалось обработать изображение. Попробуйте ещё раз позже."
	captionOverlay     = "🔥 Карта внимания модели (Grad-CAM)"
)

var labelNames = map[entity.Label]string{
	entity.LabelNormal:    "норма",
	entity.LabelBenign:    "доброкачественное образование",
	entity.LabelMalignant: "злокачественное образование",
}

// Diagnoser is the part of the application layer the bot uses.
type Diagnoser interface {
	Diagnose(ctx context.Context, filename string, data []byte) (*entity.Diagnosis, error)
	Get(ctx context.Context, id string) (*entity.Diagnosis, error)
	Summary(ctx context.Context) (entity.Summary, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot accepts chest images over Telegram and replies with a diagnosis.
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    sender
	fetch     func(fileID string) ([]byte, error)
	users     *app.UserService
	diagnoser Diagnoser
}

// NewBot connects to the Bot API with token.
func NewBot(token string, users *app.UserService, diagnoser Diagnoser) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", api.Self.UserName)

	b := &Bot{
		api:       api,
		sender:    api,
		users:     users,
		diagnoser: diagnoser,
	}
	b.fetch = b.downloadFile
	return b, nil
}

// Run handles updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}

		b.handleMessage(ctx, update.Message)
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	user, err := b.users.Get(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		log.Printf("Error getting user: %v", err)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	if fileID, name, ok := imageOf(msg); ok {
		b.handleImage(ctx, msg.Chat.ID, user, fileID, name)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// imageOf picks the largest photo size, or an image sent as a document.
func imageOf(msg *tgbotapi.Message) (fileID, name string, ok bool) {
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		return photo.FileID, photo.FileUniqueID + ".jpg", true
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID, d.FileName, true
	}
	return "", "", false
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *entity.User) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.setState(ctx, user, entity.StateMainMenu)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "check":
		if user.State == entity.StateProcessing {
			b.sendMessage(chatID, msgBusy)
			return
		}
		b.setState(ctx, user, entity.StateAwaitingPhoto)
		b.sendMessage(chatID, msgAwaitingPhoto)

	case "cancel":
		b.setState(ctx, user, entity.StateMainMenu)
		b.sendMessage(chatID, msgCancelled)

	case "last":
		b.sendLast(ctx, chatID, user)

	case "stats":
		b.sendStats(ctx, chatID)

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

func (b *Bot) handleImage(ctx context.Context, chatID int64, user *entity.User, fileID, name string) {
	switch user.State {
	case entity.StateAwaitingPhoto:
	case entity.StateProcessing:
		b.sendMessage(chatID, msgBusy)
		return
	default:
		b.sendMessage(chatID, msgSendPhoto)
		return
	}

	b.setState(ctx, user, entity.StateProcessing)
	b.sendMessage(chatID, msgProcessing)

	data, err := b.fetch(fileID)
	if err != nil {
		log.Printf("Error downloading photo: %v", err)
		b.sendMessage(chatID, msgProcessingError)
		b.setState(ctx, user, entity.StateMainMenu)
		return
	}

	d, err := b.diagnoser.Diagnose(ctx, name, data)
	if err != nil {
		log.Printf("Diagnosis failed: %v", err)
		if errors.Is(err, app.ErrBadImage) {
			b.sendMessage(chatID, msgBadImage)
		} else {
			b.sendMessage(chatID, msgProcessingError)
		}
		b.setState(ctx, user, entity.StateMainMenu)
		return
	}

	if _, err := b.users.FinishCheck(ctx, user.ID, chatID, d.ID); err != nil {
		log.Printf("Error saving user: %v", err)
	}
	b.sendDiagnosis(chatID, d)
}

func (b *Bot) sendDiagnosis(chatID int64, d *entity.Diagnosis) {
	b.sendMessage(chatID, formatDiagnosis(d))
	if d.Report != nil && d.Report.Text != "" {
		b.sendMessage(chatID, d.Report.Text)
	}

	photo, ok := overlayFile(d.Visualization)
	if !ok {
		return
	}
	cfg := tgbotapi.NewPhoto(chatID, photo)
	cfg.Caption = captionOverlay
	if _, err := b.sender.Send(cfg); err != nil {
		log.Printf("Error sending overlay: %v", err)
	}
}

// overlayFile turns an artifact into an upload: inline bytes for data URLs,
// the file itself otherwise.
func overlayFile(a *entity.VisualizationArtifact) (tgbotapi.RequestFileData, bool) {
	switch {
	case a == nil:
		return nil, false
	case a.DataURL != "":
		raw, format, err := visualize.DataURLBytes(a.DataURL)
		if err != nil {
			log.Printf("Bad overlay data URL: %v", err)
			return nil, false
		}
		return tgbotapi.FileBytes{Name: "gradcam." + format, Bytes: raw}, true
	case a.FilePath != "":
		return tgbotapi.FilePath(a.FilePath), true
	}
	return nil, false
}

func formatDiagnosis(d *entity.Diagnosis) string {
	var sb strings.Builder
	top := d.Prediction.Top()
	fmt.Fprintf(&sb, "🩺 Результат: %s (%.1f%%)\n\n", labelNames[top.Label], top.Prob*100)
	for _, s := range d.TopK {
		fmt.Fprintf(&sb, "• %s: %.1f%%\n", labelNames[s.Label], s.Prob*100)
	}
	sb.WriteString("\n⚠️ Результат не является диагнозом.")
	return sb.String()
}

func (b *Bot) sendLast(ctx context.Context, chatID int64, user *entity.User) {
	if user.LastDiagnosisID == "" {
		b.sendMessage(chatID, msgNoLast)
		return
	}
	d, err := b.diagnoser.Get(ctx, user.LastDiagnosisID)
	if err != nil {
		log.Printf("Error loading diagnosis %s: %v", user.LastDiagnosisID, err)
		b.sendMessage(chatID, msgNoLast)
		return
	}
	b.sendDiagnosis(chatID, d)
}

func (b *Bot) sendStats(ctx context.Context, chatID int64) {
	s, err := b.diagnoser.Summary(ctx)
	if err != nil {
		log.Printf("Error loading summary: %v", err)
		b.sendMessage(chatID, msgProcessingError)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("📊 Сегодня: %d\n📈 Всего: %d\n🎯 Средняя уверенность: %.1f%%",
		s.Today, s.Total, s.AvgConfidence*100))
}

func (b *Bot) setState(ctx context.Context, user *entity.User, state entity.UserState) {
	if _, err := b.users.SetState(ctx, user.ID, user.ChatID, state); err != nil {
		log.Printf("Error saving user state: %v", err)
	}
	user.SetState(state)
}

func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	resp, err := http.Get(file.Link(b.api.Token))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
