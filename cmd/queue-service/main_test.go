package main

import (
	"context"
	"testing"

	"qms/shop-queue/internal/config"
	"qms/shop-queue/internal/queue"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDriverServesDemoShop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	st, closeStore, err := openStore(context.Background(), config.Config{StoreDriver: config.DriverMemory}, logger)
	require.NoError(t, err)
	defer closeStore()

	manager := queue.NewManager(st, queue.Options{Logger: logger})
	ticket, err := manager.CreateWalkInTicket(context.Background(), queue.WalkInInput{
		ShopID:       demoShopID,
		ServiceID:    "b1c2d3e4-f5a6-4b7c-8d9e-0f1a2b3c4d01",
		CustomerName: "Walk-in",
	})
	require.NoError(t, err)
	assert.Equal(t, "CUT-001", ticket.TicketNumber)

	snapshot, err := manager.GetQueueSnapshot(context.Background(), demoShopID)
	require.NoError(t, err)
	assert.Len(t, snapshot.BarberLines, 2)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger(config.Config{LogLevel: "loud", LogFormat: "json"})
	assert.Equal(t, "info", logger.GetLevel().String())
}
