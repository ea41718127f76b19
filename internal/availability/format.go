package availability

import (
	"fmt"
	"time"
)

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var spanishWeekdays = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

// FormatSpanish renders an instant for patients: weekday, day-of-month with
// month name, 12-hour clock. The caller passes tenant-local time.
func FormatSpanish(t time.Time) string {
	return fmt.Sprintf("%s %d de %s, %s",
		spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1], FormatSpanishTime(t))
}

// FormatSpanishDate renders only the date part: "lunes 2 de marzo de 2026".
func FormatSpanishDate(t time.Time) string {
	return fmt.Sprintf("%s %d de %s de %d",
		spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1], t.Year())
}

// FormatSpanishTime renders a 12-hour clock time: "10:30 am".
func FormatSpanishTime(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "am"
	if t.Hour() >= 12 {
		meridiem = "pm"
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), meridiem)
}
