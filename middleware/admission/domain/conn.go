package domain

import (
	"context"
	"database/sql"
)

// Operation é uma unidade de trabalho assíncrona submetida à fila.
// O ctx recebido expira em OperationTimeout.
type Operation func(ctx context.Context) (any, error)

// Conn é a conexão emprestada do pool do driver.
//
// Release devolve a conexão; um err não-nil indica que ela deve ser descartada.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Release(err error)
}

// Connector é a primitiva de aquisição do pool subjacente (colaborador externo).
// Pode ser lenta ou falhar.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}
