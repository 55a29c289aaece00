package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/agenda-lina-api/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5432, User: "lina", Password: "pw", Name: "agenda"}
	assert.Equal(t, "host=db port=5432 user=lina password=pw dbname=agenda sslmode=disable", DSN(cfg))

	cfg.SSLMode = "require"
	assert.Contains(t, DSN(cfg), "sslmode=require")
}
