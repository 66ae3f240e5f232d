// Package obfuscate реализует обратимую подстановку символов (шифр Цезаря с
// цифровым ключом), которой маскируются идентификаторы чатов и тексты сообщений
// перед записью в историю.
//
// Это кодирование, а не шифрование: ключ выводится из самого идентификатора
// чата, цифры и знаки препинания не меняются. Никакой конфиденциальности
// оно не обеспечивает.
package obfuscate

import (
	"strconv"
	"strings"
)

// alphabet описывает непрерывный диапазон букв, сдвигаемых по своему модулю.
type alphabet struct {
	first rune
	size  rune
}

var alphabets = []alphabet{
	{first: 'a', size: 26},
	{first: 'A', size: 26},
	{first: 'а', size: 32},
	{first: 'А', size: 32},
}

// Encode сдвигает буквы text вперёд на цифры ключа по очереди.
func Encode(text string, key int64) string {
	return shift(text, key, 1)
}

// Decode отменяет Encode с тем же ключом.
func Decode(text string, key int64) string {
	return shift(text, key, -1)
}

// EncodeID кодирует числовой идентификатор им же самим, как это делает
// хранилище истории для chat_id.
func EncodeID(id int64) string {
	return Encode(strconv.FormatInt(id, 10), id)
}

func shift(text string, key int64, direction rune) string {
	digits := keyDigits(key)

	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for _, r := range text {
		d := digits[i%len(digits)] * direction
		b.WriteRune(shiftRune(r, d))
		i++
	}
	return b.String()
}

func shiftRune(r, d rune) rune {
	for _, a := range alphabets {
		if r >= a.first && r < a.first+a.size {
			return a.first + ((r-a.first+d)%a.size+a.size)%a.size
		}
	}
	return r
}

// keyDigits раскладывает ключ на десятичные цифры; знак отрицательного
// идентификатора (групповые чаты) игнорируется.
func keyDigits(key int64) []rune {
	s := strconv.FormatInt(key, 10)
	s = strings.TrimPrefix(s, "-")

	digits := make([]rune, 0, len(s))
	for _, c := range s {
		digits = append(digits, c-'0')
	}
	return digits
}
