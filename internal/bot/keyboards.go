package bot

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nagger/internal/reminder"
)

const (
	btnSkip          = "⏭️ Skip"
	btnYes           = "Yes"
	btnNo            = "No"
	btnConfirm       = "✅ Confirm"
	btnCancel        = "↩️ Back"
	btnCancelDialog  = "⏪ Cancel input"
	btnAnyTime       = "🌍 Any time"
	btnCustomWindow  = "✏️ Custom hours"
	menuLabelNewTask = "➕ New task"
	menuLabelTasks   = "📋 Tasks"
	menuLabelInfo    = "📊 Info"
	menuLabelHelp    = "ℹ️ Help"
)

type keyboardKind int

const (
	keyboardMenu keyboardKind = iota
	keyboardCancel
	keyboardSkip
	keyboardYesNo
	keyboardFrequency
	keyboardWindow
	keyboardConfirm
)

func (b *Bot) keyboard(kind keyboardKind) interface{} {
	switch kind {
	case keyboardCancel:
		return cancelKeyboard()
	case keyboardSkip:
		return skipKeyboard()
	case keyboardYesNo:
		return yesNoKeyboard()
	case keyboardFrequency:
		return frequencyKeyboard()
	case keyboardWindow:
		return windowKeyboard(b.quickWindow)
	case keyboardConfirm:
		return confirmKeyboard()
	default:
		return mainMenuKeyboard()
	}
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelInfo),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func frequencyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("15m"),
			tgbotapi.NewKeyboardButton("30m"),
			tgbotapi.NewKeyboardButton("1h"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("2h"),
			tgbotapi.NewKeyboardButton("4h"),
			tgbotapi.NewKeyboardButton("daily"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func windowKeyboard(quick reminder.Window) tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(quickWindowLabel(quick)),
			tgbotapi.NewKeyboardButton(btnAnyTime),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCustomWindow),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func quickWindowLabel(w reminder.Window) string {
	return "🌤 " + w.String()
}

func taskButtons(number int, title string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", number, shortTitle(title, 18)), fmt.Sprintf("%s%d", cbCompletePrefix, number)),
		tgbotapi.NewInlineKeyboardButtonData("🧪", fmt.Sprintf("%s%d", cbTestPrefix, number)),
		tgbotapi.NewInlineKeyboardButtonData("\U0001F5D1", fmt.Sprintf("%s%d", cbDeletePrefix, number)),
	)
}

func normalized(text string) string {
	return strings.TrimSpace(strings.ToLower(text))
}

func isSkipInput(text string) bool {
	value := normalized(text)
	return value == "-" || value == normalized(btnSkip) || value == "skip"
}

func isConfirmInput(text string) bool {
	value := normalized(text)
	return value == normalized(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := normalized(text)
	return value == normalized(btnCancel) || value == "back" || value == "no"
}

func isCancelDialogInput(text string) bool {
	value := normalized(text)
	return value == normalized(btnCancelDialog) || value == "cancel"
}

func isYesInput(text string) bool {
	switch normalized(text) {
	case "yes", "y", "on", "+":
		return true
	}
	return false
}

func isNoInput(text string) bool {
	switch normalized(text) {
	case "no", "n", "off", "-":
		return true
	}
	return false
}

func isAnyTimeInput(text string) bool {
	value := normalized(text)
	return value == normalized(btnAnyTime) || value == "any" || value == "any time" || isSkipInput(text)
}

func isCustomWindowInput(text string) bool {
	value := normalized(text)
	return value == normalized(btnCustomWindow) || value == "custom"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
