package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/workflow"
	"github.com/FranksOps/gleaner/pkg/proxy"
)

type recordingSink struct {
	saved  []*storage.Export
	closed bool
}

func (s *recordingSink) Save(_ context.Context, e *storage.Export) error {
	s.saved = append(s.saved, e)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestNewAppRejectsUnknownFormat(t *testing.T) {
	v.Set("out-dir", t.TempDir())
	v.Set("format", []string{"xlsx", "bogus"})
	defer v.Set("format", []string{"xlsx"})

	a, err := newApp(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
	if a != nil {
		t.Errorf("no app may be returned on error")
	}
}

func TestAppCloseClosesEverySink(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	var order []string
	a := &app{
		sinks: storage.Multi{first, second},
		closers: []func() error{
			func() error { order = append(order, "a"); return nil },
			func() error { order = append(order, "b"); return errors.New("boom") },
		},
	}

	if err := a.Close(); err == nil {
		t.Error("expected closer error to be reported")
	}
	if !first.closed || !second.closed {
		t.Errorf("every sink must be closed, got %v and %v", first.closed, second.closed)
	}
	if strings.Join(order, "") != "ba" {
		t.Errorf("closers must run in reverse order, got %v", order)
	}
}

func TestRunSavesAndLogsProxyHealth(t *testing.T) {
	var logs bytes.Buffer
	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add("http://10.0.0.1:8080"); err != nil {
		t.Fatalf("add proxy: %v", err)
	}
	pool.Report(pool.Next(), errors.New("connect refused"))

	sink := &recordingSink{}
	a := &app{
		logger:  slog.New(slog.NewJSONHandler(&logs, nil)),
		sinks:   storage.Multi{sink},
		proxies: pool,
	}

	err := a.run(context.Background(), func(context.Context) (*workflow.Output, error) {
		return &workflow.Output{Source: "29cm", Query: "니트", Schema: export.ReviewSchema, Rows: [][]any{{"1"}}}, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.saved) != 1 || sink.saved[0].Query != "니트" {
		t.Errorf("expected the output to be saved once, got %d", len(sink.saved))
	}
	out := logs.String()
	if !strings.Contains(out, `"msg":"proxy health"`) || !strings.Contains(out, `"failures":1`) {
		t.Errorf("expected proxy health record, got:\n%s", out)
	}
}
