package bot

import (
	"context"
	log "log/slog"
)

// User-visible strings, kept from the bot's original audience.
const (
	msgDenied = "⛔️ Доступ запрещён."
	msgHelp   = "Привет! Я бот-интерфейс к OpenAI.\n\n" +
		"• Текст → текстовый ответ.\n" +
		"• Голос → голосовой ответ.\n" +
		"• Команда /image <описание> — сгенерирую изображение."
	msgImageUsage    = "Использование: /image <описание>"
	msgImageFail     = "Не удалось сгенерировать изображение."
	msgTextFail      = "Ошибка ответа."
	msgFetchFail     = "Не удалось прочитать аудио."
	msgSTTFail       = "Не удалось распознать аудио."
	msgChatFail      = "Ошибка генерации ответа."
	msgEmptyAnswer   = "Пустой ответ."
	msgInternalError = "Что-то пошло не так. Попробуйте ещё раз."
)

const (
	preambleText  = "You are a helpful assistant. Reply in the user's language."
	preambleVoice = "You are a helpful assistant. Reply concisely in the language of the user's message."
)

func (d *Dispatcher) handleCommand(ctx context.Context, logger *log.Logger, ev InboundEvent) {
	cmd, args := splitCommand(ev.Text)
	switch cmd {
	case "start", "help":
		d.reply(ctx, logger, ev.Chat, msgHelp)
	case "image":
		d.handleImage(ctx, logger, ev, args)
	default:
		logger.Debug("Ignoring unknown command", "cmd", cmd)
	}
}

func (d *Dispatcher) handleImage(ctx context.Context, logger *log.Logger, ev InboundEvent, prompt string) {
	if prompt == "" {
		d.reply(ctx, logger, ev.Chat, msgImageUsage)
		return
	}

	d.typing(ctx, ev.Chat)

	img, err := d.ai.GenerateImage(ctx, prompt)
	if err != nil {
		logger.Error("Image generation failed", "err", err)
		d.reply(ctx, logger, ev.Chat, msgImageFail)
		return
	}

	if err := d.tg.SendPhoto(ctx, ev.Chat, img, "Промпт: "+prompt); err != nil {
		logger.Error("Failed to send photo", "err", err)
		d.reply(ctx, logger, ev.Chat, msgImageFail)
	}
}

func (d *Dispatcher) handleText(ctx context.Context, logger *log.Logger, ev InboundEvent) {
	d.typing(ctx, ev.Chat)

	res, err := d.ai.Complete(ctx, ev.Text, preambleText)
	if err != nil {
		logger.Error("Completion failed", "err", err)
		d.reply(ctx, logger, ev.Chat, msgTextFail)
		return
	}

	answer := res.Text
	if answer == "" {
		// A successful call with no text is its own outcome, not an error.
		answer = msgEmptyAnswer
	}
	d.reply(ctx, logger, ev.Chat, answer)
}
