// Package recovery доводит до финала саги, зависшие после сбоя процесса.
//
// Sweeper периодически ищет саги в нефинальном статусе, которые
// не обновлялись дольше порога, и откатывает их через оркестратор.
//
// Структура:
//   - sweeper.go — Sweep и обработка одной саги
//   - cron.go    — Runner: запуск Sweep по расписанию (robfig/cron)
//
// Использование:
//
//	sweeper := recovery.New(recovery.Config{
//	    Store:        store,
//	    Orchestrator: orch,
//	    Reconcilers:  map[string]recovery.Reconciler{transfer.SagaType: workflow},
//	    Logger:       logger,
//	})
//
//	runner, err := recovery.NewRunner(sweeper, recovery.RunnerConfig{
//	    Schedule: recovery.EverySpec(time.Minute),
//	})
//	if err != nil {
//	    return err
//	}
//	runner.Run(ctx) // блокируется до отмены ctx
//
// Recovery не берёт глобальных блокировок: несколько процессов
// могут запускать Sweep одновременно.
package recovery
