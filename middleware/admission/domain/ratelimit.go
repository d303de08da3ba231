package domain

// Camada de domínio do limite de rajada do gateway.

import "time"

// Limiter decide se uma ação é permitida agora.
//
// Observação: a implementação pode ser token-bucket, janela fixa, etc.
// A camada de infra usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// BurstLimiter é um Limiter de "até limit tentativas por window" que pode ser
// redimensionado em runtime.
type BurstLimiter interface {
	Limiter
	Resize(window time.Duration, limit int)
}
