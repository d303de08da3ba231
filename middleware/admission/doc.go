// Package admission fornece adapters HTTP (net/http) para a fila de admissão e o
// gateway de conexões.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: Queue (fila por prioridade) e Gateway (aquisição de conexões)
//   - infra: implementações concretas (token bucket, lib/pq, sinks de estatística)
//   - admission (este pacote): classificação de prioridade por request, tradução de
//     erros de admissão para status/headers e o handler de estatísticas
//
// Fluxo no gateway:
//
//  1. Middleware classifica a prioridade (header/rota) e a guarda no contexto
//  2. O handler submete o trabalho à Queue ou chama Gateway.Acquire
//  3. Se recusado, WriteError responde 503 com Retry-After
//  4. Se admitido, a conexão instrumentada é usada e devolvida com Release
//
// Variáveis de ambiente do binário gateway (cmd/gateway) usam o prefixo GATEWAY_,
// como GATEWAY_ADMISSION_MAX_CONCURRENT_REQUESTS e GATEWAY_POSTGRES_DSN.
package admission
