// Package engine содержит чистую логику графа flow.
//
// Включает:
//   - graph.go    — индекс графа и вычисление следующих узлов (NextNodes)
//   - validate.go — валидация графа при сохранении flow
//   - frontier.go — построение новых RunNode для следующих узлов
//   - dedupe.go   — ключ дедупликации run
//   - template.go — рендеринг конфигурации узлов ({{ .Context.fanId }})
//
// Engine не обращается к хранилищу и не выполняет действия: он только
// отвечает на вопрос "что делать дальше" по снимку графа.
package engine
