package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MinDescriptionLength = 10
	MaxDescriptionLength = 5000
	MinReasonLength      = 3
	MaxReasonLength      = 500
	MinMessageLength     = 1
	MaxMessageLength     = 5000
	MaxFileNameLength    = 255
	CurrencyCodeLength   = 3
)

// ValidateDescription проверяет описание сделки или спора.
func ValidateDescription(s string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(s))
	if length < MinDescriptionLength || length > MaxDescriptionLength {
		return fmt.Errorf("описание должно быть от %d до %d символов", MinDescriptionLength, MaxDescriptionLength)
	}
	return nil
}

// ValidateReason проверяет причину спора, отмены или решения.
func ValidateReason(s string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(s))
	if length < MinReasonLength || length > MaxReasonLength {
		return fmt.Errorf("причина должна быть от %d до %d символов", MinReasonLength, MaxReasonLength)
	}
	return nil
}

// ValidateMessage проверяет текст сообщения в споре.
func ValidateMessage(s string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(s))
	if length < MinMessageLength || length > MaxMessageLength {
		return fmt.Errorf("сообщение должно быть от %d до %d символов", MinMessageLength, MaxMessageLength)
	}
	return nil
}

// ValidateCurrency проверяет трёхбуквенный код валюты.
func ValidateCurrency(s string) error {
	if utf8.RuneCountInString(s) != CurrencyCodeLength {
		return fmt.Errorf("код валюты должен состоять из %d букв", CurrencyCodeLength)
	}
	for _, r := range s {
		if !unicode.IsUpper(r) || r > unicode.MaxASCII {
			return fmt.Errorf("код валюты должен состоять из заглавных латинских букв")
		}
	}
	return nil
}

// ValidateFileName проверяет имя файла доказательства.
func ValidateFileName(s string) error {
	if s == "" || utf8.RuneCountInString(s) > MaxFileNameLength {
		return fmt.Errorf("имя файла обязательно и не длиннее %d символов", MaxFileNameLength)
	}
	if strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("имя файла не должно содержать разделители пути")
	}
	return nil
}
