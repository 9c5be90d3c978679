package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"schedbot/internal/broadcast"
)

const (
	ActionChooseGroup = "choose_group"
	ActionChangeGroup = "change_group"
)

const (
	txtWelcome          = "Добро пожаловать! Пожалуйста, выберите свою группу."
	txtChooseButton     = "📚 Выбрать группу"
	txtAlreadyChosen    = "Вы уже выбрали группу: %s."
	txtChangeButton     = "🔄 Сменить группу"
	txtAskGroup         = "Введите название вашей группы (например, П-2109):"
	txtAskNewGroup      = "Введите новую группу для смены:"
	txtChangeUsage      = "Пожалуйста, укажите новую группу после команды /changegroup."
	txtGroupChanged     = "Ваша группа была успешно изменена на %s"
	txtNotRegistered    = "Вы не зарегистрированы. Пожалуйста, используйте команду /start для регистрации."
	txtRegistered       = "Вы зарегистрированы в группе %s"
	txtUploadPrompt     = "Пожалуйста, отправьте файл Excel с расписанием."
	txtNoRights         = "У вас нет прав для выполнения этой команды."
	txtNoUploadRights   = "У вас нет прав для загрузки файлов."
	txtPromoteUsage     = "Используйте команду: /promote <TelegramUserId>"
	txtPromoted         = "Вы были назначены администратором."
	txtPromoteRejected  = "Пользователь уже является администратором или не зарегистрирован."
	txtPromoteDone      = "Пользователь %d назначен администратором."
	txtFileTooLarge     = "Файл слишком большой (%s). Максимальный размер: %s."
	txtParseFailed      = "Не удалось прочитать файл расписания: %s"
	txtBroadcastFailed  = "Рассылка не выполнена: %s"
	txtBroadcastStarted = "Файл получен, начинаю рассылку…"
)

func formatReport(r broadcast.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Рассылка завершена за %s.\n", r.Took.Round(10*time.Millisecond))
	fmt.Fprintf(&b, "Групп в файле: %d\n", r.Groups)
	fmt.Fprintf(&b, "Получателей: %d, доставлено: %d, ошибок: %d\n", r.Total, r.Delivered, r.Failed)
	if r.NotFound > 0 {
		fmt.Fprintf(&b, "Без расписания (группа не найдена): %d\n", r.NotFound)
	}
	if len(r.Failures) > 0 {
		b.WriteString("\nНе доставлено:\n")
		for i, f := range r.Failures {
			if i == 10 {
				fmt.Fprintf(&b, "… и ещё %d\n", r.Failed-i)
				break
			}
			fmt.Fprintf(&b, "• %d (%s): %s\n", f.ChatID, f.Group, f.Err)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTooLarge(size, limit int64) string {
	return fmt.Sprintf(txtFileTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
}
