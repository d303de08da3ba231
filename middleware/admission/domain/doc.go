// Package domain define contratos e tipos de domínio para admissão e backpressure
// no acesso a conexões de banco.
//
// Este pacote não depende de net/http nem de drivers concretos.
// A intenção é permitir testes de unidade puros (fila, gateway) e desacoplar
// as regras de admissão dos detalhes de infraestrutura (lib/pq, redis, kafka).
package domain
