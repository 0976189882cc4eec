package imap

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dhcgn/receipt-watcher/mailbox"
	"github.com/dhcgn/receipt-watcher/model"
)

func TestNewDialer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "valid", opts: Options{Host: "imap.example.com", Port: 993}},
		{name: "missing host", opts: Options{Port: 993}, wantErr: true},
		{name: "zero port", opts: Options{Host: "imap.example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDialer(tt.opts, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDialer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDial_UnreachableIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	d, err := NewDialer(Options{Host: "127.0.0.1", Port: addr.Port}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Dial(context.Background())
	var connErr *model.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial() error = %v, want *model.ConnectionError", err)
	}
}

func TestDial_CancelledContext(t *testing.T) {
	d, err := NewDialer(Options{Host: "imap.example.com", Port: 993}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dial(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Dial() error = %v, want context.Canceled", err)
	}
}

func TestWaitForActivity_PendingSignal(t *testing.T) {
	s := &Session{signal: make(chan struct{}, 1)}
	s.signal <- struct{}{}

	result, err := s.WaitForActivity(context.Background(), time.Minute)
	if err != nil || result != mailbox.WaitSignal {
		t.Fatalf("WaitForActivity() = %s, %v, want signal", result, err)
	}

	s.signal <- struct{}{}
	s.drainSignal()
	if len(s.signal) != 0 {
		t.Error("drainSignal left a pending signal")
	}
}
