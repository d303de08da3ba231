package domain

import (
	"fmt"
	"time"
)

// Config reúne os limites da fila e do gateway.
//
// É carregada uma vez no startup e pode ser ajustada em runtime via ConfigPatch;
// ajustes valem apenas para decisões de admissão futuras.
type Config struct {
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" json:"maxConcurrentRequests"`
	MaxQueueSize          int           `mapstructure:"max_queue_size" json:"maxQueueSize"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" json:"requestTimeout"`
	OperationTimeout      time.Duration `mapstructure:"operation_timeout" json:"operationTimeout"`
	MaxRetries            int           `mapstructure:"max_retries" json:"maxRetries"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay" json:"retryBaseDelay"`
	BurstWindow           time.Duration `mapstructure:"burst_window" json:"burstWindow"`
	BurstLimit            int           `mapstructure:"burst_limit" json:"burstLimit"`

	// MaxPendingAcquires é o teto de aquisições em andamento no driver,
	// independente do limite de concorrência da fila. 0 usa MaxConcurrentRequests.
	MaxPendingAcquires int           `mapstructure:"max_pending_acquires" json:"maxPendingAcquires"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout" json:"connectTimeout"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" json:"slowQueryThreshold"`
	ReportInterval     time.Duration `mapstructure:"report_interval" json:"reportInterval"`

	// ShedBelow: com a concorrência saturada, prioridades abaixo disso recebem ErrBusy.
	ShedBelow Priority `mapstructure:"shed_below" json:"shedBelow"`
	// ElevatedPriority: a partir dela, um item pode despejar outro de prioridade menor.
	ElevatedPriority Priority `mapstructure:"elevated_priority" json:"elevatedPriority"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentRequests: 10,
		MaxQueueSize:          100,
		RequestTimeout:        30 * time.Second,
		OperationTimeout:      10 * time.Second,
		MaxRetries:            2,
		RetryBaseDelay:        100 * time.Millisecond,
		BurstWindow:           1 * time.Second,
		BurstLimit:            20,
		ConnectTimeout:        5 * time.Second,
		SlowQueryThreshold:    1 * time.Second,
		ReportInterval:        1 * time.Minute,
		ShedBelow:             PriorityNormal,
		ElevatedPriority:      PriorityElevated,
	}
}

// PendingCap retorna o teto efetivo de aquisições pendentes.
func (c Config) PendingCap() int {
	if c.MaxPendingAcquires > 0 {
		return c.MaxPendingAcquires
	}
	return c.MaxConcurrentRequests
}

func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentRequests <= 0:
		return fmt.Errorf("%w: max_concurrent_requests must be > 0", ErrInvalidConfig)
	case c.MaxQueueSize < 0:
		return fmt.Errorf("%w: max_queue_size must be >= 0", ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request_timeout must be > 0", ErrInvalidConfig)
	case c.OperationTimeout <= 0:
		return fmt.Errorf("%w: operation_timeout must be > 0", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidConfig)
	case c.RetryBaseDelay < 0:
		return fmt.Errorf("%w: retry_base_delay must be >= 0", ErrInvalidConfig)
	case c.BurstWindow <= 0:
		return fmt.Errorf("%w: burst_window must be > 0", ErrInvalidConfig)
	case c.BurstLimit <= 0:
		return fmt.Errorf("%w: burst_limit must be > 0", ErrInvalidConfig)
	case c.MaxPendingAcquires < 0:
		return fmt.Errorf("%w: max_pending_acquires must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch é uma atualização parcial: campos nil não mudam.
type ConfigPatch struct {
	MaxConcurrentRequests *int           `json:"maxConcurrentRequests,omitempty"`
	MaxQueueSize          *int           `json:"maxQueueSize,omitempty"`
	RequestTimeout        *time.Duration `json:"requestTimeout,omitempty"`
	OperationTimeout      *time.Duration `json:"operationTimeout,omitempty"`
	MaxRetries            *int           `json:"maxRetries,omitempty"`
	RetryBaseDelay        *time.Duration `json:"retryBaseDelay,omitempty"`
	BurstWindow           *time.Duration `json:"burstWindow,omitempty"`
	BurstLimit            *int           `json:"burstLimit,omitempty"`
	MaxPendingAcquires    *int           `json:"maxPendingAcquires,omitempty"`
	SlowQueryThreshold    *time.Duration `json:"slowQueryThreshold,omitempty"`
}

// Apply retorna uma cópia de c com o patch aplicado.
func (c Config) Apply(p ConfigPatch) Config {
	if p.MaxConcurrentRequests != nil {
		c.MaxConcurrentRequests = *p.MaxConcurrentRequests
	}
	if p.MaxQueueSize != nil {
		c.MaxQueueSize = *p.MaxQueueSize
	}
	if p.RequestTimeout != nil {
		c.RequestTimeout = *p.RequestTimeout
	}
	if p.OperationTimeout != nil {
		c.OperationTimeout = *p.OperationTimeout
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	if p.RetryBaseDelay != nil {
		c.RetryBaseDelay = *p.RetryBaseDelay
	}
	if p.BurstWindow != nil {
		c.BurstWindow = *p.BurstWindow
	}
	if p.BurstLimit != nil {
		c.BurstLimit = *p.BurstLimit
	}
	if p.MaxPendingAcquires != nil {
		c.MaxPendingAcquires = *p.MaxPendingAcquires
	}
	if p.SlowQueryThreshold != nil {
		c.SlowQueryThreshold = *p.SlowQueryThreshold
	}
	return c
}
