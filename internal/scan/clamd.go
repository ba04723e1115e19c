package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dutchcoders/go-clamd"
)

// ErrScanFailed — clamd не вернул вердикт.
var ErrScanFailed = errors.New("антивирусная проверка не выполнена")

// Clamd — сканер через демон ClamAV (INSTREAM).
type Clamd struct {
	client *clamd.Clamd
	addr   string
	logger *slog.Logger
}

// NewClamd создаёт сканер. addr: "tcp://host:3310" или путь unix-сокета.
func NewClamd(addr string, logger *slog.Logger) *Clamd {
	return &Clamd{
		client: clamd.NewClamd(addr),
		addr:   addr,
		logger: logger.With(slog.String("component", "clamd")),
	}
}

// Scan передаёт поток в clamd. Отмена ctx закрывает соединение.
func (c *Clamd) Scan(ctx context.Context, r io.Reader) (Result, error) {
	abort := make(chan bool)
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(abort) }) }
	defer stop()

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-abort:
		}
	}()

	results, err := c.client.ScanStream(r, abort)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	var (
		res      Result
		verdicts int
	)
	for sr := range results {
		switch sr.Status {
		case clamd.RES_FOUND:
			res.Infected = true
			res.Signature = sr.Description
			verdicts++
		case clamd.RES_OK:
			verdicts++
		default:
			return Result{}, fmt.Errorf("%w: %s", ErrScanFailed, sr.Raw)
		}
	}
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrScanFailed, ctx.Err())
	}
	if verdicts == 0 {
		return Result{}, fmt.Errorf("%w: пустой ответ clamd", ErrScanFailed)
	}

	if res.Infected {
		c.logger.Warn("Обнаружена угроза", slog.String("signature", res.Signature))
	}
	return res, nil
}

// Ping проверяет доступность clamd.
func (c *Clamd) Ping() error {
	if err := c.client.Ping(); err != nil {
		return fmt.Errorf("clamd %s недоступен: %w", c.addr, err)
	}
	return nil
}
