package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestNewClientRejectsMalformedURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{DatabaseURL: "postgres://user:pa ss@host:port/db"})
	assert.ErrorContains(t, err, "failed to parse database URL")
}
