package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func TestNew_Health(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	client, err := New(context.Background(), Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	mr.Close()
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected health error once redis is gone")
	}
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, _ := strconv.Atoi(mr.Port())
	mr.Close()

	if _, err := New(context.Background(), Config{Host: host, Port: port}, zap.NewNop()); err == nil {
		t.Error("expected error connecting to a stopped server")
	}
}

func TestConfig_Addr(t *testing.T) {
	if got := (Config{Host: "cache", Port: 6380}).Addr(); got != "cache:6380" {
		t.Errorf("Addr = %q", got)
	}
}
