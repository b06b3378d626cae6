package coordinator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Сырой вывод агентской сети бывает обернут в кавычки и содержит
// внутренний reasoning-блок. Вычищаем best-effort, ошибок не бывает.
var reasoningBlockRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>\n?`)

// Normalize приводит сырой ответ агентской сети к финальному тексту:
// снимает внешнюю пару кавычек, разэкранирует \n и \", удаляет ровно один
// reasoning-блок, затем пытается распаковать JSON-конверт {"message": ...}.
// Если остаток — не валидная структура, возвращается вычищенная строка как есть.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)

	// Внешняя пара кавычек (апстрим любит отдавать JSON-строку как текст)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)

	// Ровно один reasoning-блок: вложенные или повторные блоки — известный
	// краевой случай, остаточный scratch-текст сознательно не трогаем
	if loc := reasoningBlockRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]] + s[loc[1]:]
	}
	s = strings.TrimSpace(s)

	// JSON-конверт с полем message
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(s), &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}

	return s
}
