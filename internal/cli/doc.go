// Package cli — команды утилиты fanflow.
//
// CLI ходит в Fanflow API по HTTP и не зависит от внутренних пакетов
// сервиса: типы ответов объявлены здесь же, в client.go.
//
// Команды сгруппированы по ресурсам:
//
//	fanflow flow list|create|show|update|enable|disable
//	fanflow run list|start|show|cancel|nodes
//	fanflow tick
//
// Фабрики команд (NewFlowCmd, NewRunCmd, NewTickCmd) получают clientFn
// и outputFn, потому что адрес API и --json известны только после
// разбора флагов корневой команды.
//
// Данные печатаются в stdout, уведомления в stderr:
//
//	fanflow run list --status active --json | jq '.[].id'
//
// Ошибки API возвращаются как *APIError; для 409 при запуске run
// в ExistingRunID лежит активный run с тем же ключом.
package cli
