package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
)

// Logger appends signed JSONL audit lines to a rotating file sink.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	kp  *swarmcrypto.KeyPair
}

// NewLogger opens a rotating audit log at path, signed with kp.
func NewLogger(path string, kp *swarmcrypto.KeyPair, maxSizeMB, maxBackups, maxAgeDays int) *Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 10
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return &Logger{out: lj, kp: kp}
}

// Append signs rec and writes it as one JSONL line.
func (l *Logger) Append(rec Record) error {
	signed, err := swarmcrypto.SignRecord(l.kp, rec)
	if err != nil {
		return fmt.Errorf("audit: sign record: %w", err)
	}
	line, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.out.Write(line)
	return err
}

// Close releases the underlying file sink, if it supports closing.
func (l *Logger) Close() error {
	if c, ok := l.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
