// Пакет wal — журнал загрузок Files Module.
// Каждая транзакция — отдельный JSON-файл {tx_id}.wal.json в FM_WAL_DIR.
// Журнал перечисляет пути артефактов, записанных в рамках транзакции,
// чтобы после аварийного рестарта удалить байты, для которых так и не
// появились записи в базе данных.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpUpload — загрузка оригинала и генерация вариантов
	OpUpload OperationType = "upload"
	// OpCopy — копирование файла в новую запись
	OpCopy OperationType = "copy"
	// OpCompress — генерация сжатого варианта для существующего оригинала
	OpCompress OperationType = "compress"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	// StatusPending — байты пишутся, записи в БД ещё не созданы
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — записи в БД созданы
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — байты удалены после ошибки
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	Operation OperationType     `json:"operation"`
	Status    TransactionStatus `json:"status"`

	// FileID — идентификатор оригинала
	FileID string `json:"file_id"`

	// Paths — относительные пути артефактов. Путь добавляется до записи байтов.
	Paths []string `json:"paths"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending транзакций
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла журнала для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
