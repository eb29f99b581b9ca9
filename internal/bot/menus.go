package bot

import (
	"retail-assistant/internal/model"
	"retail-assistant/internal/transport"
)

// Подписи кнопок меню. Тексты совпадают с подписями в учётной системе
// и используются как команды конечного автомата.
const (
	btnMainMenu        = "Главное меню"
	btnRestart         = "Перезапустить бот"
	btnConsent         = "Согласиться"
	btnSearch          = "Поиск товара"
	btnCard            = "Дисконтная карта"
	btnAsk             = "Задать вопрос оператору"
	btnAnswer          = "Ответить на вопросы"
	btnMasterBalance   = "Баланс д.к. Мастер"
	btnInfo            = "Информация"
	btnVisit           = "Посетить магазин"
	btnMarketing       = "Меню маркетинга"
	btnStatistics      = "Меню статистики"
	btnBroadcastMenu   = "Меню рассылки"
	btnBroadcastAll    = "Рассылка всем"
	btnSegFamily       = "Семейная"
	btnSegMaster       = "Мастер"
	btnSegHome         = "Домовёнок"
	btnSegFamilyHome   = "Семейная+Домовёнок"
	btnAllExceptMaster = "Всем кроме Мастер"
	btnStatUsers       = "Пользователи"
	btnStatSearches    = "Поиски"
	btnStatBroadcasts  = "Рассылки"
	btnStatQueries     = "Популярные запросы"
	btnStatPeak        = "Пиковая активность"
)

// consentKeyboard — единственная клавиатура до подтверждения согласия.
func consentKeyboard() transport.Keyboard {
	return transport.Keyboard{{btnConsent}}
}

// mainMenuKeyboard собирает главное меню с учётом роли пользователя:
// недоступные роли кнопок не видят.
func mainMenuKeyboard(role model.RoleClass, hasMasterCard bool) transport.Keyboard {
	kb := transport.Keyboard{
		{btnSearch},
		{btnCard},
		{btnAsk},
	}
	if hasMasterCard {
		kb = append(kb, []string{btnMasterBalance})
	}
	if role == model.RoleOperator || role == model.RoleAdmin {
		kb = append(kb, []string{btnAnswer})
	}
	if role == model.RoleAdmin {
		kb = append(kb, []string{btnMarketing})
	}
	kb = append(kb,
		[]string{btnInfo, btnVisit},
		[]string{btnRestart},
	)
	return kb
}

func marketingKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{btnStatistics},
		{btnBroadcastMenu},
		{btnMainMenu},
	}
}

func statisticsKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{btnStatUsers, btnStatSearches},
		{btnStatBroadcasts},
		{btnStatQueries, btnStatPeak},
		{btnMainMenu},
	}
}

func broadcastKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{btnBroadcastAll},
		{btnSegFamily, btnSegMaster, btnSegHome},
		{btnSegFamilyHome},
		{btnAllExceptMaster},
		{btnMainMenu},
	}
}

// backKeyboard — клавиатура состояний ожидания ввода: только возврат в меню.
func backKeyboard() transport.Keyboard {
	return transport.Keyboard{{btnMainMenu}}
}
