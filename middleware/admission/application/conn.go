package application

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"db-admission-gateway/middleware/admission/domain"
)

// instrumentedConn decora a conexão do driver sem mudar seu comportamento:
// conta aquisição/devolução e mede o tempo das queries.
type instrumentedConn struct {
	g        *Gateway
	raw      domain.Conn
	released atomic.Bool
}

var _ domain.Conn = (*instrumentedConn)(nil)

func newInstrumentedConn(g *Gateway, raw domain.Conn) *instrumentedConn {
	return &instrumentedConn{g: g, raw: raw}
}

func (c *instrumentedConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.raw.QueryContext(ctx, query, args...)
	c.g.onQuery(query, time.Since(start), err)
	return rows, err
}

func (c *instrumentedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.raw.ExecContext(ctx, query, args...)
	c.g.onQuery(query, time.Since(start), err)
	return res, err
}

// Release é idempotente: só a primeira chamada chega ao driver e aos contadores.
func (c *instrumentedConn) Release(err error) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.raw.Release(err)
	c.g.onRelease()
}
