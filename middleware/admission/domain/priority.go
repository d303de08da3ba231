package domain

import "strconv"

// Priority ordena o atendimento na fila: maior é atendido primeiro.
//
// Qualquer inteiro é aceito; as constantes abaixo são as classes usadas na prática.
type Priority int

const (
	// PriorityLow é tráfego de fundo, o primeiro a ser recusado sob saturação.
	PriorityLow Priority = 0
	// PriorityNormal é a classe padrão (inclui aquisições de conexão enfileiradas).
	PriorityNormal Priority = 1
	// PriorityElevated pode despejar itens de prioridade menor quando a fila está cheia.
	PriorityElevated Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityElevated:
		return "elevated"
	}
	return strconv.Itoa(int(p))
}

// ParsePriority aceita o nome da classe ou um inteiro.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "elevated", "high":
		return PriorityElevated, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return Priority(n), true
}
