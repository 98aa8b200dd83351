// Package runlog сериализует запись журнала и манифеста артефактов run.
//
// На каждый run держится FIFO ожидающих операций и один флаг активного
// обработчика. Каждая операция выполняет ровно один read-modify-write
// в хранилище, поэтому N конкурентных Append дают ровно N записей в
// порядке извлечения из очереди. При ошибке записи все ожидающие операции
// этого run отклоняются.
package runlog
