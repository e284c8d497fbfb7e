package store

import (
	"fmt"
	"strings"

	"github.com/betbot/spotguard/internal/ports"
)

// Config 订单存储配置
type Config struct {
	Driver        string // sqlite | badger | memory
	Path          string
	EncryptionKey []byte // 仅 badger
}

// Open 按驱动打开存储，并包上 Resilient
func Open(cfg Config) (*Resilient, error) {
	var (
		inner ports.OrderStore
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		inner, err = OpenSQLite(cfg.Path)
	case "badger":
		inner, err = OpenBadger(BadgerOptions{Path: cfg.Path, EncryptionKey: cfg.EncryptionKey})
	case "memory":
		inner = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("📦 [订单存储] 已打开: driver=%s path=%s", cfg.Driver, cfg.Path)
	return NewResilient(inner), nil
}
