// utilitário pequeno para formatação de valores numéricos em headers.
// Padroniza Retry-After em segundos inteiros, arredondando para cima.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatSeconds arredonda para cima: Retry-After nunca deve ser 0 quando há espera.
func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	secs := int((d + time.Second - 1) / time.Second)
	return formatInt(secs)
}
